// Package config loads the authclient command settings from an optional
// config file, AUTHCLIENT_* environment variables and command-line flags
// using Viper, and turns them into a client Config and a session store.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/crimedesk/authclient"
	"github.com/crimedesk/authclient/internal/logging"
	"github.com/crimedesk/authclient/session"
)

// EnvPrefix prefixes every environment variable, e.g. AUTHCLIENT_SERVER or
// AUTHCLIENT_STORE_BACKEND.
const EnvPrefix = "AUTHCLIENT"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Settings is the command configuration.
type Settings struct {
	// Server is the API base URL.
	Server string `mapstructure:"server"`
	// Timeout bounds each HTTP request; 0 disables it.
	Timeout time.Duration `mapstructure:"timeout"`
	// LeadTime is how long before expiry the access token is refreshed.
	LeadTime time.Duration `mapstructure:"lead_time"`

	Store StoreSettings `mapstructure:"store"`
	Log   LogSettings   `mapstructure:"log"`

	Audit   bool `mapstructure:"audit"`
	Tracing bool `mapstructure:"tracing"`
}

// StoreSettings selects and configures the session store.
type StoreSettings struct {
	Backend string `mapstructure:"backend"`
	// Dir holds the file backend records. Empty means ~/.authclient/<namespace>.
	Dir        string        `mapstructure:"dir"`
	RedisAddr  string        `mapstructure:"redis_addr"`
	RedisTTL   time.Duration `mapstructure:"redis_ttl"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	Namespace  string        `mapstructure:"namespace"`
	// Passphrase seals records at rest when set.
	Passphrase string `mapstructure:"passphrase"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps flag names onto settings keys.
var flagKeys = map[string]string{
	"server":     "server",
	"store":      "store.backend",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func setDefaults(v *viper.Viper) {
	def := authclient.DefaultConfig()
	v.SetDefault("server", def.API.BaseURL)
	v.SetDefault("timeout", def.API.Timeout)
	v.SetDefault("lead_time", def.Refresh.LeadTime)
	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.dir", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_ttl", 7*24*time.Hour)
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.namespace", "default")
	v.SetDefault("store.passphrase", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("audit", false)
	v.SetDefault("tracing", false)
}

// Load reads path (when non-empty), then the environment, then any changed
// flags in fs, later sources winning. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	s.Store.Backend = strings.ToLower(strings.TrimSpace(s.Store.Backend))
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings that ClientConfig does not cover.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.Server) == "" {
		return errors.New("config: server must be set")
	}
	switch s.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	case BackendSQLite:
		if s.Store.SQLitePath == "" {
			return errors.New("config: store.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", s.Store.Backend)
	}
	if s.Store.RedisTTL < 0 {
		return errors.New("config: store.redis_ttl must be >= 0")
	}
	if !logging.ValidFormat(s.Log.Format) {
		return fmt.Errorf("config: unknown log format %q", s.Log.Format)
	}
	return nil
}

// ClientConfig returns the client configuration for these settings. The
// result is validated by the client builder.
func (s *Settings) ClientConfig() authclient.Config {
	cfg := authclient.DefaultConfig()
	cfg.API.BaseURL = strings.TrimRight(s.Server, "/")
	cfg.API.Timeout = s.Timeout
	cfg.Refresh.LeadTime = s.LeadTime
	cfg.Audit.Enabled = s.Audit
	cfg.Tracing.Enabled = s.Tracing
	return cfg
}

// OpenStore opens the configured session store. The returned closer
// releases backend resources and is never nil.
func (s *Settings) OpenStore(ctx context.Context, logger *slog.Logger) (session.Store, io.Closer, error) {
	opts := []session.StoreOption{session.WithStoreLogger(logger)}
	if s.Store.Passphrase != "" {
		sealer, err := session.NewSealer(s.Store.Passphrase, session.DefaultSealConfig())
		if err != nil {
			return nil, nopCloser{}, fmt.Errorf("config: sealer: %w", err)
		}
		opts = append(opts, session.WithSealer(sealer))
	}

	switch s.Store.Backend {
	case BackendMemory:
		return session.NewMemoryStore(opts...), nopCloser{}, nil

	case BackendFile:
		dir := s.Store.Dir
		if dir == "" {
			base, err := session.DefaultDir()
			if err != nil {
				return nil, nopCloser{}, err
			}
			dir = filepath.Join(base, s.Store.Namespace)
		}
		b, err := session.NewFileBackend(dir)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return session.NewRecordStore(b, opts...), nopCloser{}, nil

	case BackendRedis:
		var closers multiCloser
		addr := s.Store.RedisAddr
		if addr == "" {
			mr, err := miniredis.Run()
			if err != nil {
				return nil, nopCloser{}, fmt.Errorf("config: start embedded redis: %w", err)
			}
			logger.Warn("config: no redis address, using an in-process redis; the session ends with the process")
			addr = mr.Addr()
			closers = append(closers, closerFunc(func() error { mr.Close(); return nil }))
		}
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		closers = append([]io.Closer{rdb}, closers...)
		b := session.NewRedisBackend(rdb, "authclient", s.Store.Namespace, s.Store.RedisTTL)
		latency, err := b.Ping(ctx)
		if err != nil {
			closers.Close()
			return nil, nopCloser{}, fmt.Errorf("config: redis %s: %w", addr, err)
		}
		logger.Debug("config: redis store ready", "addr", addr, "latency", latency)
		return session.NewRecordStore(b, opts...), closers, nil

	case BackendSQLite:
		b, err := session.OpenSQLiteBackend(ctx, s.Store.SQLitePath, s.Store.Namespace, logger)
		if err != nil {
			return nil, nopCloser{}, err
		}
		return session.NewRecordStore(b, opts...), b, nil
	}
	return nil, nopCloser{}, fmt.Errorf("config: unknown store backend %q", s.Store.Backend)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
