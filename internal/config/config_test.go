package config_test

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/invigil/invigil/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO", "verbose"} {
		if l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = true, want false", l)
		}
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()
	var out struct {
		D config.Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal([]byte(`d: 1m30s`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.D.Std() != 90*time.Second {
		t.Errorf("d = %v, want 1m30s", out.D.Std())
	}
}

func TestDuration_UnmarshalYAML_Invalid(t *testing.T) {
	t.Parallel()
	var out struct {
		D config.Duration `yaml:"d"`
	}
	err := yaml.Unmarshal([]byte(`d: "not a duration"`), &out)
	if err == nil {
		t.Fatal("expected error for invalid duration string, got nil")
	}
	if !strings.Contains(err.Error(), "not a duration") {
		t.Errorf("error should quote the bad value, got: %v", err)
	}
}

func TestDuration_MarshalYAML(t *testing.T) {
	t.Parallel()
	in := struct {
		D config.Duration `yaml:"d"`
	}{D: config.Duration(90 * time.Second)}
	b, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), "1m30s") {
		t.Errorf("marshalled duration should be \"1m30s\", got: %s", b)
	}
}
