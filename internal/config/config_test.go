package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REMOTE_API_TOKEN", "secret")
	t.Setenv("JOBS_UPDATES_NONCE", "nonce")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.GetHTTPAddr() != ":8080" {
		t.Fatalf("unexpected http port: %d", cfg.HTTPPort)
	}
	if cfg.Jobs.NotificationPolicy != "wildcard" {
		t.Fatalf("unexpected notification policy: %s", cfg.Jobs.NotificationPolicy)
	}
	if cfg.Redis.JobTTL != 720*time.Hour {
		t.Fatalf("unexpected job ttl: %s", cfg.Redis.JobTTL)
	}
	if cfg.LocalMode {
		t.Fatalf("local mode should default to false")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("JOBS_UPDATES_NONCE", "nonce")
	t.Setenv("REMOTE_API_TOKEN", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("expected token error, got %v", err)
	}

	t.Setenv("JOBRELAY_LOCAL_MODE", "true")
	if _, err := Load(); err != nil {
		t.Fatalf("local mode should not need a token: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			HTTPPort:  8080,
			GRPCPort:  9090,
			LogLevel:  "info",
			Redis:     RedisConfig{Addr: "localhost:6379"},
			Pipelines: PipelineConfig{DBPath: "p.db"},
			Remote:    RemoteConfig{BaseURL: "https://api.example.org", Token: "t"},
			Jobs: JobConfig{
				CallbackBaseURL:    "http://localhost:8080",
				UpdatesNonce:       "n",
				NotificationPolicy: "per-event",
			},
			Workers: WorkerConfig{PoolSize: 1, QueueSize: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.HTTPPort = 0 }, want: "HTTP port"},
		{name: "bad policy", mutate: func(c *Config) { c.Jobs.NotificationPolicy = "some" }, want: "notification policy"},
		{name: "no nonce", mutate: func(c *Config) { c.Jobs.UpdatesNonce = "" }, want: "nonce"},
		{name: "bad callback", mutate: func(c *Config) { c.Jobs.CallbackBaseURL = "not a url" }, want: "callback"},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "trace" }, want: "log level"},
		{name: "no workers", mutate: func(c *Config) { c.Workers.PoolSize = 0 }, want: "pool size"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
