package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN / ServerConfig helpers
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host: "localhost", Port: 5432, User: "membership",
				Password: "secret", Name: "membership", SSLMode: "require",
			},
			want: "host=localhost port=5432 user=membership password=secret dbname=membership sslmode=require",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host: "db.example.com", Port: 5433, User: "admin",
				Name: "mydb", SSLMode: "disable",
			},
			want: "host=db.example.com port=5433 user=admin password= dbname=mydb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetSiteURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"site url wins", ServerConfig{SiteURL: "https://members.example.edu/", BaseURL: "http://api:8080"}, "https://members.example.edu"},
		{"falls back to base url", ServerConfig{BaseURL: "http://api:8080"}, "http://api:8080"},
		{"both empty", ServerConfig{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetSiteURL(); got != tt.want {
				t.Errorf("GetSiteURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsAdminEmail(t *testing.T) {
	a := AuthConfig{AdminEmails: []string{" Admin@Consortium.org ", "ops@consortium.org"}}
	if !a.IsAdminEmail("admin@consortium.org") {
		t.Error("IsAdminEmail should match case-insensitively and ignore whitespace")
	}
	if a.IsAdminEmail("someone@consortium.org") {
		t.Error("IsAdminEmail matched an unlisted address")
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "membership",
			User: "membership",
		},
		Transfers:     TransfersConfig{Expiry: 7 * 24 * time.Hour},
		Notifications: NotificationsConfig{MaxAttempts: 5},
		Logging:       LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid minimal config", func(c *Config) {}, false},
		{"port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"port 70000", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing base_url", func(c *Config) { c.Server.BaseURL = "" }, true},
		{"missing database host", func(c *Config) { c.Database.Host = "" }, true},
		{"missing database name", func(c *Config) { c.Database.Name = "" }, true},
		{"missing database user", func(c *Config) { c.Database.User = "" }, true},
		{"unknown archive backend", func(c *Config) { c.Archive.Backend = "ftp" }, true},
		{"local archive without path", func(c *Config) { c.Archive.Backend = "local" }, true},
		{"local archive with path", func(c *Config) {
			c.Archive.Backend = "local"
			c.Archive.Local.BasePath = "/tmp/archive"
		}, false},
		{"s3 archive without region", func(c *Config) {
			c.Archive.Backend = "s3"
			c.Archive.S3.Bucket = "mail"
		}, true},
		{"azure archive missing key", func(c *Config) {
			c.Archive.Backend = "azure"
			c.Archive.Azure.AccountName = "acct"
			c.Archive.Azure.ContainerName = "mail"
		}, true},
		{"gcs archive with bucket", func(c *Config) {
			c.Archive.Backend = "gcs"
			c.Archive.GCS.Bucket = "mail"
		}, false},
		{"oidc without issuer", func(c *Config) {
			c.Auth.OIDC.Enabled = true
			c.Auth.OIDC.ClientID = "id"
			c.Auth.OIDC.ClientSecret = "secret"
		}, true},
		{"tls without cert", func(c *Config) { c.Security.TLS.Enabled = true }, true},
		{"zero transfer expiry", func(c *Config) { c.Transfers.Expiry = 0 }, true},
		{"bad admin address", func(c *Config) { c.Notifications.AdminAddress = "not-an-email" }, true},
		{"good admin address", func(c *Config) { c.Notifications.AdminAddress = "membership@consortium.org" }, false},
		{"notifications without smtp host", func(c *Config) { c.Notifications.Enabled = true }, true},
		{"zero max attempts", func(c *Config) { c.Notifications.MaxAttempts = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	const content = `
server:
  base_url: "http://localhost:8080"
database:
  host: "localhost"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Transfers.Expiry != 168*time.Hour {
		t.Errorf("default Transfers.Expiry = %v, want 168h", cfg.Transfers.Expiry)
	}
	if cfg.Notifications.SendInterval != time.Second {
		t.Errorf("default Notifications.SendInterval = %v, want 1s", cfg.Notifications.SendInterval)
	}
	if cfg.Notifications.MaxAttempts != 5 {
		t.Errorf("default Notifications.MaxAttempts = %d, want 5", cfg.Notifications.MaxAttempts)
	}
	if cfg.Analytics.RefreshSchedule != "0 3 * * *" {
		t.Errorf("default Analytics.RefreshSchedule = %q", cfg.Analytics.RefreshSchedule)
	}
	if cfg.Auth.APIKeys.Prefix != "mbr" {
		t.Errorf("default Auth.APIKeys.Prefix = %q, want mbr", cfg.Auth.APIKeys.Prefix)
	}
	if cfg.Archive.Backend != "" {
		t.Errorf("default Archive.Backend = %q, want empty", cfg.Archive.Backend)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
  base_url: "http://testhost:9999"
  site_url: "https://members.example.edu"
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
transfers:
  expiry: "48h"
notifications:
  admin_address: "membership@example.edu"
logging:
  level: "debug"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" || cfg.Server.Port != 9999 {
		t.Errorf("Server = %s:%d, want testhost:9999", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Server.GetSiteURL() != "https://members.example.edu" {
		t.Errorf("SiteURL = %q", cfg.Server.GetSiteURL())
	}
	if cfg.Transfers.Expiry != 48*time.Hour {
		t.Errorf("Transfers.Expiry = %v, want 48h", cfg.Transfers.Expiry)
	}
	if cfg.Notifications.AdminAddress != "membership@example.edu" {
		t.Errorf("AdminAddress = %q", cfg.Notifications.AdminAddress)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MBR_DATABASE_NAME", "from_env")
	t.Setenv("MBR_TRANSFERS_EXPIRY", "24h")
	const content = `
server:
  base_url: "http://localhost:8080"
database:
  name: "from_file"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Name != "from_env" {
		t.Errorf("Database.Name = %q, want from_env", cfg.Database.Name)
	}
	if cfg.Transfers.Expiry != 24*time.Hour {
		t.Errorf("Transfers.Expiry = %v, want 24h", cfg.Transfers.Expiry)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	const content = `
server:
  base_url: "http://localhost:8080"
database:
  password: "${TEST_DB_PASS}"
`
	cfg, err := Load(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTempConfig(t, "server: [unclosed")); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}
