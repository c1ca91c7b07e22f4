package authclient

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crimedesk/authclient/middleware"
	"github.com/crimedesk/authclient/refresh"
	"github.com/crimedesk/authclient/role"
)

// Config holds every tunable of a Client. Build it with DefaultConfig, adjust
// fields, and hand it to Builder.WithConfig; the builder keeps its own copy.
type Config struct {
	API     APIConfig
	Refresh RefreshConfig
	Routes  RoutesConfig
	Faults  FaultsConfig
	Audit   AuditConfig
	Metrics MetricsConfig
	Tracing TracingConfig
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig locates the REST backend.
//
// Only requests whose URL starts with BaseURL are "API requests": they get the
// bearer token and fault reactions. PublicPaths are relative to BaseURL and
// never carry the token.
type APIConfig struct {
	BaseURL     string
	PublicPaths []string
	Timeout     time.Duration
	UserAgent   string
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls proactive token refresh.
type RefreshConfig struct {
	// LeadTime is how long before access-token expiry the refresh fires.
	LeadTime time.Duration
	// Timeout bounds a timer-fired refresh exchange.
	Timeout time.Duration
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig names the navigation targets the client emits.
type RoutesConfig struct {
	Login     string
	Forbidden string
	Admin     string
	Police    string
	Dashboard string
}

// RouteFor returns the landing route for a user with role r.
func (rc RoutesConfig) RouteFor(r role.Role) string {
	switch r {
	case role.Admin:
		return rc.Admin
	case role.PoliceOfficer:
		return rc.Police
	default:
		return rc.Dashboard
	}
}

/*
====================================
FAULTS CONFIG
====================================
*/

// FaultsConfig controls the global reaction to failed API requests.
type FaultsConfig struct {
	// ForbiddenRedirectPrefixes are API-relative path prefixes whose 403
	// replies navigate to Routes.Forbidden. Other 403s only raise a notice.
	ForbiddenRedirectPrefixes []string
	// MaxErrorBody caps how much of an error reply is read.
	MaxErrorBody int64
}

/*
====================================
AUDIT / METRICS / TRACING CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

type TracingConfig struct {
	Enabled    bool
	TracerName string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when Builder.WithConfig is
// never called.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:     "http://localhost:8080/api",
			PublicPaths: append([]string(nil), middleware.DefaultPublicPaths...),
			Timeout:     30 * time.Second,
			UserAgent:   "authclient",
		},
		Refresh: RefreshConfig{
			LeadTime: refresh.DefaultLeadTime,
			Timeout:  15 * time.Second,
		},
		Routes: RoutesConfig{
			Login:     "/login",
			Forbidden: "/forbidden",
			Admin:     "/admin",
			Police:    "/police",
			Dashboard: "/dashboard",
		},
		Faults: FaultsConfig{
			ForbiddenRedirectPrefixes: []string{"/admin", "/police"},
			MaxErrorBody:              middleware.DefaultMaxErrorBody,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			TracerName: "github.com/crimedesk/authclient",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.API.PublicPaths = cloneStrings(cfg.API.PublicPaths)
	out.Faults.ForbiddenRedirectPrefixes = cloneStrings(cfg.Faults.ForbiddenRedirectPrefixes)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first structural problem in c. Every error wraps
// ErrInvalidConfig. Validate does not mutate c.
func (c *Config) Validate() error {
	// API
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalidConfig("API BaseURL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidConfig("API BaseURL scheme must be http or https, got %q", u.Scheme)
	}
	if c.API.Timeout < 0 {
		return invalidConfig("API Timeout must be >= 0")
	}
	for _, p := range c.API.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			return invalidConfig("API PublicPaths entry %q must start with /", p)
		}
	}

	// Refresh
	if c.Refresh.LeadTime < 0 {
		return invalidConfig("Refresh LeadTime must be >= 0")
	}
	if c.Refresh.Timeout <= 0 {
		return invalidConfig("Refresh Timeout must be > 0")
	}

	// Routes
	routes := []struct{ name, value string }{
		{"Login", c.Routes.Login},
		{"Forbidden", c.Routes.Forbidden},
		{"Admin", c.Routes.Admin},
		{"Police", c.Routes.Police},
		{"Dashboard", c.Routes.Dashboard},
	}
	for _, r := range routes {
		if !strings.HasPrefix(r.value, "/") {
			return invalidConfig("Routes %s must start with /, got %q", r.name, r.value)
		}
	}

	// Faults
	if c.Faults.MaxErrorBody < 0 {
		return invalidConfig("Faults MaxErrorBody must be >= 0")
	}
	for _, p := range c.Faults.ForbiddenRedirectPrefixes {
		if !strings.HasPrefix(p, "/") {
			return invalidConfig("Faults ForbiddenRedirectPrefixes entry %q must start with /", p)
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalidConfig("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return invalidConfig("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Tracing
	if c.Tracing.Enabled && c.Tracing.TracerName == "" {
		return invalidConfig("Tracing TracerName must be set when tracing is enabled")
	}

	return nil
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
