package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// ProbeType represents the type of a node-local probe
type ProbeType string

const (
	ProbeTypeHTTP ProbeType = "http"
	ProbeTypeTCP  ProbeType = "tcp"
)

// Result represents the outcome of a probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Probe checks the workload of the node the agent runs on
type Probe interface {
	Check(ctx context.Context) Result
	Type() ProbeType
}

// ParseProbe builds a probe from a target such as "http://127.0.0.1:8080/healthz"
// or "tcp://127.0.0.1:6379"
func ParseProbe(target string) (Probe, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid probe target %q: %w", target, err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPProbe(target), nil
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("invalid probe target %q: missing host:port", target)
		}
		return NewTCPProbe(u.Host), nil
	default:
		return nil, fmt.Errorf("unsupported probe scheme %q", u.Scheme)
	}
}

// HTTPProbe is healthy when the endpoint answers within the status range
type HTTPProbe struct {
	URL               string
	ExpectedStatusMin int
	ExpectedStatusMax int
	Client            *http.Client
}

// NewHTTPProbe creates an HTTP probe accepting 200-399
func NewHTTPProbe(url string) *HTTPProbe {
	return &HTTPProbe{
		URL:               url,
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client:            &http.Client{Timeout: 5 * time.Second},
	}
}

// Check implements Probe
func (h *HTTPProbe) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return failed(start, "failed to create request: %v", err)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, "request failed: %v", err)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	return Result{
		Healthy:   healthy,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type implements Probe
func (h *HTTPProbe) Type() ProbeType { return ProbeTypeHTTP }

// WithStatusRange sets the accepted status code range
func (h *HTTPProbe) WithStatusRange(min, max int) *HTTPProbe {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}

// TCPProbe is healthy when a connection can be opened
type TCPProbe struct {
	Address string
	Timeout time.Duration
}

// NewTCPProbe creates a TCP probe with a 5 second connect timeout
func NewTCPProbe(address string) *TCPProbe {
	return &TCPProbe{Address: address, Timeout: 5 * time.Second}
}

// Check implements Probe
func (t *TCPProbe) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, "connection failed: %v", err)
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type implements Probe
func (t *TCPProbe) Type() ProbeType { return ProbeTypeTCP }

func failed(start time.Time, format string, args ...interface{}) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Status debounces probe results: the workload turns unhealthy only after
// Retries consecutive failures and healthy again on the first success.
type Status struct {
	ConsecutiveFailures int
	LastResult          Result
	Healthy             bool
}

// NewStatus creates a Status that starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update records a probe result
func (s *Status) Update(result Result, retries int) {
	s.LastResult = result
	if result.Healthy {
		s.ConsecutiveFailures = 0
		s.Healthy = true
		return
	}
	s.ConsecutiveFailures++
	if s.ConsecutiveFailures >= retries {
		s.Healthy = false
	}
}
