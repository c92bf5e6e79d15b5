package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/http-shield/pkg/logging"
	"github.com/Sternrassler/http-shield/pkg/shield"
)

const sampleYAML = `
listen: ":9000"
upstream:
  base_url: "http://origin:3000"
  timeout: 5s
  forward_headers: ["Accept"]
log:
  level: debug
engine:
  max_age: 2s
  timeout: 250ms
  max_queue_size: 10
  max_cache_entries: 100
  evict_fraction: 0.5
  compression:
    workers: 2
    queue_size: 8
    level: 6
rules:
  - pattern: "^/chatting"
    max_age: 1s
    timeout: 100ms
    key_queries: ["tab", "page"]
    compress: true
  - pattern: "^/news"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shield.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	engine := shield.DefaultConfig()
	if cfg.Engine.MaxAge != engine.MaxAge || cfg.Engine.MaxQueueSize != engine.MaxQueueSize {
		t.Errorf("engine defaults not carried: %+v", cfg.Engine)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(LoadOptions{Path: path, Environ: []string{}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Upstream.BaseURL != "http://origin:3000" || cfg.Upstream.Timeout != 5*time.Second {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	if cfg.Upstream.UserAgent == "" {
		t.Error("fields absent from the file should keep their defaults")
	}
	if cfg.Engine.Timeout != 250*time.Millisecond || cfg.Engine.Compression.Workers != 2 {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(cfg.Rules))
	}
	if r := cfg.Rules[0]; r.MaxAge != time.Second || !r.Compress || len(r.KeyQueries) != 2 {
		t.Errorf("rule 0 = %+v", r)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(LoadOptions{Environ: []string{
		EnvConfig + "=" + path,
		EnvListen + "=:7000",
		EnvUpstream + "=https://other",
		EnvLogLevel + "=warn",
		EnvLogPretty + "=true",
		EnvTrace + "=stdout",
	}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want :7000", cfg.Listen)
	}
	if cfg.Upstream.BaseURL != "https://other" {
		t.Errorf("BaseURL = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Log.Level != "warn" || !cfg.Log.Pretty {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Trace != "stdout" {
		t.Errorf("Trace = %q", cfg.Trace)
	}
	if len(cfg.Rules) != 2 {
		t.Error("rules should come from the file named by the environment")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		environ []string
		noFile  bool
	}{
		{name: "missing file", noFile: true},
		{name: "malformed yaml", content: "rules: [: bad"},
		{name: "bad duration", content: "engine:\n  max_age: soon\n"},
		{name: "empty pattern", content: "rules:\n  - max_age: 1s\n"},
		{name: "unknown exporter", content: "trace: jaeger\n"},
		{name: "bad pretty flag", content: "listen: \":1\"\n", environ: []string{EnvLogPretty + "=maybe"}},
		{name: "empty upstream", content: "upstream:\n  base_url: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if !tt.noFile {
				path = writeConfig(t, tt.content)
			}
			environ := tt.environ
			if environ == nil {
				environ = []string{}
			}

			if _, err := Load(LoadOptions{Path: path, Environ: environ}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestShieldConfig(t *testing.T) {
	cfg, err := Load(LoadOptions{Path: writeConfig(t, sampleYAML), Environ: []string{}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ec, err := cfg.ShieldConfig()
	if err != nil {
		t.Fatalf("ShieldConfig failed: %v", err)
	}
	if ec.MaxQueueSize != 10 || ec.EvictFraction != 0.5 || ec.Compression.QueueSize != 8 {
		t.Errorf("engine config = %+v", ec)
	}
	if len(ec.Rules) != 2 {
		t.Fatalf("got %d rules", len(ec.Rules))
	}
	if r := ec.Rules[0]; r.WaitTimeout != 100*time.Millisecond || !r.Compress {
		t.Errorf("rule 0 = %+v", r)
	}
	if !ec.Rules[0].Matcher.MatchString("/chatting/room") {
		t.Error("rule 0 should match /chatting/room")
	}

	engine, err := shield.New(ec)
	if err != nil {
		t.Fatalf("shield.New rejected converted config: %v", err)
	}
	engine.Close()
}

func TestShieldConfig_InvalidPattern(t *testing.T) {
	cfg := Default()
	cfg.Rules = []RuleConfig{{Pattern: "(unclosed"}}

	if _, err := cfg.ShieldConfig(); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestLogging(t *testing.T) {
	cfg := Default()
	cfg.Log = LogConfig{Level: "DEBUG", Pretty: true}

	lc := cfg.Logging()
	if lc.Level != logging.LevelDebug || !lc.Pretty {
		t.Errorf("logging config = %+v", lc)
	}
}

func TestUpstreamClient(t *testing.T) {
	cfg := Default()
	uc := cfg.UpstreamClient()
	if uc.BaseURL != cfg.Upstream.BaseURL || uc.MaxBodyBytes != cfg.Upstream.MaxBodyBytes {
		t.Errorf("upstream config = %+v", uc)
	}
}
