package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "COURSECLIENT"

var sessionBackends = map[string]struct{}{
	"memory":   {},
	"file":     {},
	"sqlite":   {},
	"postgres": {},
	"redis":    {},
}

type Config struct {
	API          APIConfig
	Session      SessionConfig
	Log          LogConfig
	AuditLogFile string
	Stub         StubConfig
}

type APIConfig struct {
	BaseURL      string
	LoginURL     string
	CoursesURL   string
	PurchaseURL  string
	DashboardURL string
	AuthHeader   string
}

type SessionConfig struct {
	Backend       string
	StateFile     string
	SQLitePath    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type StubConfig struct {
	Addr          string
	SigningSecret string
	Users         map[string]string
}

// Load reads configuration from COURSECLIENT_* environment variables.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	base := strings.TrimRight(v.GetString("api.base_url"), "/")
	cfg := Config{
		API: APIConfig{
			BaseURL:      base,
			LoginURL:     endpoint(v, "api.login_url", base, "/login"),
			CoursesURL:   endpoint(v, "api.courses_url", base, "/courses"),
			PurchaseURL:  endpoint(v, "api.purchase_url", base, "/purchase"),
			DashboardURL: endpoint(v, "api.dashboard_url", base, "/welcome"),
			AuthHeader:   v.GetString("api.auth_header"),
		},
		Session: SessionConfig{
			Backend:       strings.ToLower(strings.TrimSpace(v.GetString("session.backend"))),
			StateFile:     v.GetString("session.state_file"),
			SQLitePath:    v.GetString("session.sqlite_path"),
			DatabaseURL:   v.GetString("session.database_url"),
			RedisAddr:     v.GetString("session.redis_addr"),
			RedisPassword: v.GetString("session.redis_password"),
			RedisPrefix:   v.GetString("session.redis_prefix"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
		},
		AuditLogFile: v.GetString("audit_log_file"),
		Stub: StubConfig{
			Addr:          v.GetString("stub.addr"),
			SigningSecret: v.GetString("stub.signing_secret"),
		},
	}

	users, err := parseUsers(v.GetString("stub.users"))
	if err != nil {
		return Config{}, err
	}
	cfg.Stub.Users = users

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.API.LoginURL == "" || c.API.CoursesURL == "" || c.API.PurchaseURL == "" || c.API.DashboardURL == "" {
		return fmt.Errorf("COURSECLIENT_API_BASE_URL must not be empty")
	}
	if c.API.AuthHeader == "" {
		return fmt.Errorf("COURSECLIENT_API_AUTH_HEADER must not be empty")
	}
	if _, ok := sessionBackends[c.Session.Backend]; !ok {
		return fmt.Errorf("COURSECLIENT_SESSION_BACKEND %q is not supported", c.Session.Backend)
	}
	switch c.Session.Backend {
	case "file":
		if c.Session.StateFile == "" {
			return fmt.Errorf("COURSECLIENT_SESSION_STATE_FILE must not be empty")
		}
	case "sqlite":
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("COURSECLIENT_SESSION_SQLITE_PATH must not be empty")
		}
	case "postgres":
		if c.Session.DatabaseURL == "" {
			return fmt.Errorf("COURSECLIENT_SESSION_DATABASE_URL must not be empty")
		}
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("COURSECLIENT_SESSION_REDIS_ADDR must not be empty")
		}
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("COURSECLIENT_LOG_FORMAT must be console or json")
	}
	if c.Stub.Addr == "" {
		return fmt.Errorf("COURSECLIENT_STUB_ADDR must not be empty")
	}
	if c.Stub.SigningSecret == "" {
		return fmt.Errorf("COURSECLIENT_STUB_SIGNING_SECRET must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.login_url", "")
	v.SetDefault("api.courses_url", "")
	v.SetDefault("api.purchase_url", "")
	v.SetDefault("api.dashboard_url", "")
	v.SetDefault("api.auth_header", "auth-token")

	v.SetDefault("session.backend", "file")
	v.SetDefault("session.state_file", "./data/session.json")
	v.SetDefault("session.sqlite_path", "./data/session.db")
	v.SetDefault("session.database_url", "")
	v.SetDefault("session.redis_addr", "")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_prefix", "courseclient:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("audit_log_file", "./data/activity.log")

	v.SetDefault("stub.addr", ":8080")
	v.SetDefault("stub.signing_secret", "change-me-in-production")
	v.SetDefault("stub.users", "student@learnmusic.tech:changeme")
}

// endpoint prefers an explicit URL and otherwise joins base and path.
func endpoint(v *viper.Viper, key, base, path string) string {
	if explicit := strings.TrimSpace(v.GetString(key)); explicit != "" {
		return explicit
	}
	if base == "" {
		return ""
	}
	return base + path
}

// parseUsers reads "email:password,email:password".
func parseUsers(raw string) (map[string]string, error) {
	users := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		email, password, ok := strings.Cut(pair, ":")
		if !ok || email == "" || password == "" {
			return nil, fmt.Errorf("COURSECLIENT_STUB_USERS entry %q must be email:password", pair)
		}
		users[email] = password
	}
	return users, nil
}
