package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Component is one probed dependency with its latest result.
type Component struct {
	Name    string        `json:"name"`
	Type    string        `json:"type"`
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

// Checker probes the relay's dependencies: the transcript database and the
// upstream agent service base URL.
type Checker struct {
	transcriptDB    *sql.DB
	upstreamBaseURL string
	dbTimeout       time.Duration
	httpTimeout     time.Duration
	httpClient      *http.Client
}

// Config holds health checker configuration.
type Config struct {
	TranscriptDB    *sql.DB
	UpstreamBaseURL string
	DBTimeout       time.Duration
	HTTPTimeout     time.Duration
}

// New creates a Checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Checker{
		transcriptDB:    cfg.TranscriptDB,
		upstreamBaseURL: strings.TrimSuffix(strings.TrimSpace(cfg.UpstreamBaseURL), "/"),
		dbTimeout:       cfg.DBTimeout,
		httpTimeout:     cfg.HTTPTimeout,
		httpClient:      &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Check probes all configured components.
func (c *Checker) Check(ctx context.Context) []Component {
	var components []Component
	if c.transcriptDB != nil {
		components = append(components, c.checkDB(ctx))
	}
	if c.upstreamBaseURL != "" {
		components = append(components, c.checkUpstream(ctx))
	}
	return components
}

// Overall reduces component results to a single status. The upstream probe
// only degrades overall health: the relay still serves RPC and reports
// failures per request when the upstream is unreachable.
func (c *Checker) Overall(components []Component) Status {
	overall := StatusHealthy
	for _, comp := range components {
		switch {
		case comp.Status == StatusUnhealthy && comp.Type == "database":
			return StatusUnhealthy
		case comp.Status != StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall
}

func (c *Checker) checkDB(ctx context.Context) Component {
	comp := Component{Name: "transcript", Type: "database", Status: StatusHealthy}
	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	start := time.Now()
	err := c.transcriptDB.PingContext(dbCtx)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
	}
	return comp
}

func (c *Checker) checkUpstream(ctx context.Context) Component {
	comp := Component{Name: "upstream", Type: "http", Status: StatusHealthy}
	reqCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, c.upstreamBaseURL, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		return comp
	}
	defer resp.Body.Close()

	// any response proves reachability; auth errors are expected on HEAD /
	if resp.StatusCode >= http.StatusInternalServerError {
		comp.Status = StatusDegraded
		comp.Error = fmt.Sprintf("upstream returned %d", resp.StatusCode)
	}
	return comp
}
