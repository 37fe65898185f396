package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Store = %q, want memory", cfg.Store)
	}
	if cfg.StoreTimeout != 3*time.Second {
		t.Errorf("StoreTimeout = %v, want 3s", cfg.StoreTimeout)
	}
	if cfg.AutoRegister {
		t.Error("AutoRegister = true, want false by default")
	}
	if cfg.RatePerMin != 60 || cfg.RateBurst != 10 {
		t.Errorf("rate = %d/min burst %d, want 60/min burst 10", cfg.RatePerMin, cfg.RateBurst)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LICENSED_STORE", " Redis ")
	t.Setenv("LICENSED_REDIS_ADDR", "localhost:6379")
	t.Setenv("LICENSED_REDIS_DB", "2")
	t.Setenv("LICENSED_STORE_TIMEOUT", "750ms")
	t.Setenv("LICENSED_AUTO_REGISTER", "true")
	t.Setenv("LICENSED_ALLOWED_CIDRS", ` "10.0.0.0/8", 127.0.0.1 ,`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Store != StoreRedis {
		t.Errorf("Store = %q, want redis", cfg.Store)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.StoreTimeout != 750*time.Millisecond {
		t.Errorf("StoreTimeout = %v, want 750ms", cfg.StoreTimeout)
	}
	if !cfg.AutoRegister {
		t.Error("AutoRegister = false, want true")
	}
	want := []string{"10.0.0.0/8", "127.0.0.1"}
	if !reflect.DeepEqual(cfg.AllowedCIDRs, want) {
		t.Errorf("AllowedCIDRs = %v, want %v", cfg.AllowedCIDRs, want)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Store:           StoreMemory,
			ShutdownTimeout: time.Second,
			RequestTimeout:  time.Second,
			StoreTimeout:    time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "memory ok", mutate: func(*Config) {}},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store = "sqlite" },
			wantErr: "unknown backend",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Store = StoreRedis },
			wantErr: "LICENSED_REDIS_ADDR",
		},
		{
			name: "redis password required",
			mutate: func(c *Config) {
				c.Store = StoreRedis
				c.Redis.Addr = "localhost:6379"
				c.Redis.PasswordRequired = true
			},
			wantErr: "LICENSED_REDIS_PASSWORD",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Store = StorePostgres },
			wantErr: "LICENSED_POSTGRES_DSN",
		},
		{
			name:    "blob without url",
			mutate:  func(c *Config) { c.Store = StoreBlob },
			wantErr: "LICENSED_BLOB_URL",
		},
		{
			name:    "zero store timeout",
			mutate:  func(c *Config) { c.StoreTimeout = 0 },
			wantErr: "LICENSED_STORE_TIMEOUT",
		},
		{
			name: "seed file outside memory",
			mutate: func(c *Config) {
				c.Store = StoreBlob
				c.Blob.URL = "http://blob"
				c.SeedFile = "seed.yaml"
			},
			wantErr: "LICENSED_SEED_FILE",
		},
		{
			name:    "bad cidr",
			mutate:  func(c *Config) { c.AllowedCIDRs = []string{"10.0.0.0/99"} },
			wantErr: "LICENSED_ALLOWED_CIDRS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		Redis:    RedisConfig{User: "admin", Password: "hunter2"},
		Postgres: PostgresConfig{DSN: "postgres://u:p@db/licensed"},
		Blob:     BlobConfig{Token: "tok"},
	}

	r := cfg.Redacted()
	dump := strings.Join([]string{r.Redis.User, r.Redis.Password, r.Postgres.DSN, r.Blob.Token}, " ")
	for _, secret := range []string{"admin", "hunter2", "u:p", "tok"} {
		if strings.Contains(dump, secret) {
			t.Errorf("Redacted() leaks %q", secret)
		}
	}
	if cfg.Redis.Password != "hunter2" {
		t.Error("Redacted() modified the original")
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{" a , b ,, c ", []string{"a", "b", "c"}},
		{`"a", 'b'`, []string{"a", "b"}},
	}
	for _, tt := range tests {
		if got := splitAndTrim(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitAndTrim(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
