// Package testutil provides helpers shared across package tests.
package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// IPv4Server is an httptest server bound explicitly to 127.0.0.1. Some CI
// sandboxes resolve localhost to ::1 first while only IPv4 loopback is
// routable; binding the listener ourselves keeps the tests deterministic.
type IPv4Server struct {
	*httptest.Server
}

// NewIPv4Server starts an HTTP server on an IPv4 loopback port and registers
// cleanup with t.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen on ipv4 loopback: %v", err)
	}
	srv := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: handler},
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return &IPv4Server{Server: srv}
}
