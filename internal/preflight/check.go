package preflight

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/citeloom/citeloom/internal/config"
)

// CheckStatus represents the result of a single check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult holds the outcome of one check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs environment checks against one configuration.
type Checker struct {
	cfg         *config.Config
	dialTimeout time.Duration
	httpClient  *http.Client
}

// Option configures a Checker.
type Option func(*Checker)

// WithDialTimeout bounds the Qdrant connectivity probe.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.dialTimeout = d
	}
}

// WithHTTPClient sets the client used for the Ollama probe.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		c.httpClient = client
	}
}

// New creates a Checker for the given configuration.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:         cfg,
		dialTimeout: 3 * time.Second,
		httpClient:  &http.Client{Timeout: 3 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check and returns the results in display order.
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	return []CheckResult{
		c.CheckProjects(),
		c.CheckWritePermissions(),
		c.CheckDiskSpace(),
		c.CheckZoteroLibrary(),
		c.CheckZoteroWeb(),
		c.CheckQdrant(),
		c.CheckEmbedder(ctx),
	}
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus condenses the results into ready, ready_with_warnings, or
// failed.
func SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			hasWarnings = true
		}
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckProjects verifies that at least one project table is declared.
func (c *Checker) CheckProjects() CheckResult {
	result := CheckResult{Name: "projects", Required: false}
	if len(c.cfg.Projects) == 0 {
		result.Status = StatusWarn
		result.Message = "no projects declared"
		result.Details = `Add a [project."<id>"] table with an embedding_model`
		return result
	}
	result.Status = StatusPass
	if n := len(c.cfg.Projects); n == 1 {
		result.Message = "1 project declared"
	} else {
		result.Message = fmt.Sprintf("%d projects declared", n)
	}
	return result
}
