package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	var c AppConfig
	applyDefaults(&c)

	if c.DebounceWindow() != 3*time.Second {
		t.Errorf("DebounceWindow = %v", c.DebounceWindow())
	}
	if c.DedupWindow() != 10*time.Minute || c.DedupMaxIDs != 4096 {
		t.Errorf("dedup = %v / %d", c.DedupWindow(), c.DedupMaxIDs)
	}
	if c.GatewayURL != "http://127.0.0.1:3001" || c.GatewayTimeout() != 3*time.Second || c.GatewayProbeInterval() != 3*time.Second {
		t.Errorf("gateway = %q %v %v", c.GatewayURL, c.GatewayTimeout(), c.GatewayProbeInterval())
	}
	if c.RedisHost != "" || c.RedisPort != 0 {
		t.Errorf("redis should stay disabled by default, got %q:%d", c.RedisHost, c.RedisPort)
	}
	if c.SessionTTL() != 12*time.Hour {
		t.Errorf("SessionTTL = %v", c.SessionTTL())
	}
}

func TestJSONSectionsThenEnv(t *testing.T) {
	raw := map[string]any{}
	doc := `{
		"app": {"AppPort": "9000", "AllowedOrigins": ["https://club.example"]},
		"redis": {"RedisHost": "cache"},
		"checkin": {"DebounceMillis": 2000},
		"gateway": {"URL": "http://10.0.0.5:3001", "ProbeSeconds": 5}
	}`
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatal(err)
	}

	var c AppConfig
	applyJSONSections(raw, &c)
	applyDefaults(&c)

	t.Setenv("CHECKIN_DEBOUNCE_MS", "4500")
	t.Setenv("GATEWAY_URL", "http://gw.local:3001/")
	applyEnvOverrides(&c)

	if c.AppPort != "9000" || len(c.AllowedOrigins) != 1 || c.AllowedOrigins[0] != "https://club.example" {
		t.Errorf("app = %q %v", c.AppPort, c.AllowedOrigins)
	}
	if c.RedisHost != "cache" || c.RedisPort != 6379 {
		t.Errorf("redis = %q:%d", c.RedisHost, c.RedisPort)
	}
	if c.DebounceMillis != 4500 {
		t.Errorf("env should win over json: DebounceMillis = %d", c.DebounceMillis)
	}
	if c.GatewayURL != "http://gw.local:3001" || c.GatewayProbeSeconds != 5 {
		t.Errorf("gateway = %q every %ds", c.GatewayURL, c.GatewayProbeSeconds)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, ,b ,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitAndTrim = %q", got)
	}
}
