package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/feedveil/oracle"
)

func TestDefaults(t *testing.T) {
	t.Setenv("FEEDVEIL_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	cfg := Default()
	if cfg.Oracle.BaseURL != oracle.DefaultBaseURL || cfg.Oracle.Model != oracle.DefaultModel {
		t.Fatalf("oracle = %+v", cfg.Oracle)
	}
	if cfg.Pipeline.BatchSize != 10 || cfg.Pipeline.Settle != 500*time.Millisecond {
		t.Fatalf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Store.SettingsDB == "" || cfg.Store.Retention != 30*24*time.Hour {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Oracle.APIKey != "" {
		t.Fatal("no key expected")
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
oracle:
  model: test/model
  timeout: 5s
  rate_per_second: 2
browser:
  headful: true
  resource_blocking: [font, media]
admin:
  addr: 127.0.0.1:8089
  mcp: true
pipeline:
  batch_mode: true
  batch_size: 4
  rescan_cron: "@every 10m"
  labels:
    obscured: Hidden
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Oracle.Model != "test/model" || cfg.Oracle.Timeout != 5*time.Second || cfg.Oracle.RatePerSecond != 2 {
		t.Fatalf("oracle = %+v", cfg.Oracle)
	}
	rc := cfg.Browser.RodConfig()
	if !rc.Headful || len(rc.ResourceBlocking) != 2 {
		t.Fatalf("rod = %+v", rc)
	}
	lc := cfg.Pipeline.LoopConfig()
	if !lc.BatchMode || lc.BatchSize != 4 || lc.Labels.Obscured != "Hidden" {
		t.Fatalf("loop = %+v", lc)
	}
	if cfg.Admin.Addr != "127.0.0.1:8089" || !cfg.Admin.MCP || cfg.Pipeline.RescanCron != "@every 10m" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("oracle: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("FEEDVEIL_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "sk-or")
	if got := Default().Oracle.APIKey; got != "sk-or" {
		t.Fatalf("key = %q", got)
	}
	t.Setenv("FEEDVEIL_API_KEY", "sk-fv")
	if got := Default().Oracle.APIKey; got != "sk-fv" {
		t.Fatalf("FEEDVEIL_API_KEY should win, got %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedveil.yaml")
	if err := os.WriteFile(path, []byte("store:\n  settings_db: /tmp/x.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.SettingsDB != "/tmp/x.db" {
		t.Fatalf("settings_db = %q", cfg.Store.SettingsDB)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
	if cfg, err := LoadFile(""); err != nil || cfg.Pipeline.BatchSize != 10 {
		t.Fatalf("empty path should give defaults: %v", err)
	}
}

func TestRegistryOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
sites:
  youtube:
    containers: [ytd-video-renderer]
    settle: 1s
  news:
    domains: [news.example]
    containers: [article]
    fields:
      title: [{selector: h2}]
    prompt: {noun: article, title_label: Headline, author_label: Byline}
`))
	if err != nil {
		t.Fatal(err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		t.Fatal(err)
	}
	yt, _ := reg.Get("youtube")
	if len(yt.Containers) != 1 || yt.Containers[0] != "ytd-video-renderer" || yt.Settle != time.Second {
		t.Fatalf("youtube = %+v", yt)
	}
	if len(yt.Fields.Title) == 0 || yt.Prompt.Noun != "YouTube video" {
		t.Fatal("unset fields must keep built-in values")
	}
	news, ok := reg.DetectURL("https://www.news.example/front")
	if !ok || news.ID != "news" || news.Prompt.TitleLabel != "Headline" {
		t.Fatalf("news = %+v", news)
	}
	if _, ok := reg.Get("twitter"); !ok {
		t.Fatal("built-ins must stay registered")
	}
}

func TestRegistryRejectsInvalidSite(t *testing.T) {
	cfg, err := Parse([]byte("sites:\n  empty:\n    domains: [x.example]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Registry(); err == nil {
		t.Fatal("site without containers should be rejected")
	}
}
