package protocol

import "net/http"

// EndpointRoute binds one handler to a method and path.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint groups the routes of one inbound surface (rpc, stream, health,
// metrics) so the server can register them selectively.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
