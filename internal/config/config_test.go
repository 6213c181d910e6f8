package config

import (
	"testing"
	"time"
)

type testConfig struct {
	ListenAddr     string        `cfg:"DOCHOST_LISTEN_ADDR" cfgDefault:":8080"`
	MaxPoolSize    int           `cfg:"DOCHOST_MAX_POOL_SIZE" cfgDefault:"10"`
	MaxAttempts    int32         `cfg:"DOCHOST_MAX_ATTEMPTS" cfgDefault:"5"`
	RequestTimeout time.Duration `cfg:"DOCHOST_REQUEST_TIMEOUT" cfgDefault:"30s"`
	DebugMode      bool          `cfg:"DOCHOST_DEBUG" cfgDefault:"false"`
	Untagged       string
}

func TestParseUsesDefaultsWhenUnset(t *testing.T) {
	var c testConfig
	if err := Parse(&c); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want default", c.ListenAddr)
	}
	if c.MaxPoolSize != 10 {
		t.Errorf("MaxPoolSize = %d, want default 10", c.MaxPoolSize)
	}
	if c.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", c.MaxAttempts)
	}
	if c.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", c.RequestTimeout)
	}
	if c.DebugMode {
		t.Error("DebugMode should default to false")
	}
}

func TestParseEnvOverridesDefault(t *testing.T) {
	t.Setenv("DOCHOST_LISTEN_ADDR", "0.0.0.0:9090")
	t.Setenv("DOCHOST_MAX_POOL_SIZE", "42")
	t.Setenv("DOCHOST_MAX_ATTEMPTS", "-1")
	t.Setenv("DOCHOST_REQUEST_TIMEOUT", "2m")
	t.Setenv("DOCHOST_DEBUG", "true")

	var c testConfig
	if err := Parse(&c); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("ListenAddr = %q", c.ListenAddr)
	}
	if c.MaxPoolSize != 42 {
		t.Errorf("MaxPoolSize = %d", c.MaxPoolSize)
	}
	if c.MaxAttempts != -1 {
		t.Errorf("MaxAttempts = %d", c.MaxAttempts)
	}
	if c.RequestTimeout != 2*time.Minute {
		t.Errorf("RequestTimeout = %v", c.RequestTimeout)
	}
	if !c.DebugMode {
		t.Error("DebugMode should be true")
	}
}

func TestParseFieldWithoutCfgTagIsIgnored(t *testing.T) {
	t.Setenv("Untagged", "should-not-be-read")
	var c testConfig
	if err := Parse(&c); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Untagged != "" {
		t.Errorf("Untagged = %q, want empty (no cfg tag)", c.Untagged)
	}
}

func TestParseRejectsNonPointer(t *testing.T) {
	var c testConfig
	if err := Parse(c); err == nil {
		t.Fatal("expected an error when Parse is not given a pointer")
	}
}

func TestParseRejectsNonStructPointer(t *testing.T) {
	var s string
	if err := Parse(&s); err == nil {
		t.Fatal("expected an error when Parse is given a pointer to a non-struct")
	}
}

func TestParseInvalidIntValue(t *testing.T) {
	t.Setenv("DOCHOST_MAX_POOL_SIZE", "not-a-number")
	var c testConfig
	if err := Parse(&c); err == nil {
		t.Fatal("expected an error for an unparseable int field")
	}
}

func TestParseInvalidDurationValue(t *testing.T) {
	t.Setenv("DOCHOST_REQUEST_TIMEOUT", "not-a-duration")
	var c testConfig
	if err := Parse(&c); err == nil {
		t.Fatal("expected an error for an unparseable duration field")
	}
}

func TestParseInvalidBoolValue(t *testing.T) {
	t.Setenv("DOCHOST_DEBUG", "not-a-bool")
	var c testConfig
	if err := Parse(&c); err == nil {
		t.Fatal("expected an error for an unparseable bool field")
	}
}
