package authclient

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "https base url valid",
			mutate: func(c *Config) {
				c.API.BaseURL = "https://crimedesk.example/api"
			},
			wantValid: true,
		},
		{
			name: "relative base url invalid",
			mutate: func(c *Config) {
				c.API.BaseURL = "/api"
			},
			wantValid: false,
		},
		{
			name: "ftp base url invalid",
			mutate: func(c *Config) {
				c.API.BaseURL = "ftp://crimedesk.example/api"
			},
			wantValid: false,
		},
		{
			name: "public path without slash invalid",
			mutate: func(c *Config) {
				c.API.PublicPaths = append(c.API.PublicPaths, "auth/login")
			},
			wantValid: false,
		},
		{
			name: "negative lead time invalid",
			mutate: func(c *Config) {
				c.Refresh.LeadTime = -time.Second
			},
			wantValid: false,
		},
		{
			name: "zero lead time valid",
			mutate: func(c *Config) {
				c.Refresh.LeadTime = 0
			},
			wantValid: true,
		},
		{
			name: "zero refresh timeout invalid",
			mutate: func(c *Config) {
				c.Refresh.Timeout = 0
			},
			wantValid: false,
		},
		{
			name: "route without slash invalid",
			mutate: func(c *Config) {
				c.Routes.Police = "police"
			},
			wantValid: false,
		},
		{
			name: "negative error body cap invalid",
			mutate: func(c *Config) {
				c.Faults.MaxErrorBody = -1
			},
			wantValid: false,
		},
		{
			name: "audit without buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "latency histograms without metrics invalid",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.EnableLatencyHistograms = true
			},
			wantValid: false,
		},
		{
			name: "tracing without name invalid",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.TracerName = ""
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected invalid config, got nil")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestCloneConfigCopiesSlices(t *testing.T) {
	cfg := defaultConfig()
	clone := cloneConfig(cfg)

	cfg.API.PublicPaths[0] = "/mutated"
	cfg.Faults.ForbiddenRedirectPrefixes[0] = "/mutated"

	if clone.API.PublicPaths[0] == "/mutated" {
		t.Fatal("clone shares PublicPaths with the original")
	}
	if clone.Faults.ForbiddenRedirectPrefixes[0] == "/mutated" {
		t.Fatal("clone shares ForbiddenRedirectPrefixes with the original")
	}
}

func TestDefaultConfigIsFresh(t *testing.T) {
	a := DefaultConfig()
	a.API.PublicPaths[0] = "/changed"
	b := DefaultConfig()
	if b.API.PublicPaths[0] == "/changed" {
		t.Fatal("DefaultConfig returned shared slices")
	}
}
