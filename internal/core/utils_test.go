package core

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"1690000000.123456789", "1690000000.123456789", false},
		{"1690000000.5", "1690000000.500000000", false},
		{"1690000000", "1690000000.000000000", false},
		{"abc", "", true},
		{"1690000000.1234567890", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && FormatTimestamp(got) != tt.want {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, FormatTimestamp(got), tt.want)
			}
		})
	}
}

func TestParseTimestampSpec(t *testing.T) {
	got, err := ParseTimestampSpec("2023-07-22 04:26:40", time.UTC)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "1690000000.000000000" {
		t.Errorf("Expected 1690000000.000000000, got %s", got)
	}

	if _, err := ParseTimestampSpec("yesterday", time.UTC); err == nil {
		t.Error("Expected error for invalid timestamp")
	}
}

func TestParseEntityID(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"0.0.849013", "0.0.849013", false},
		{"849013", "0.0.849013", false},
		{"0.0.0098", "0.0.98", false},
		{"0.0", "", true},
		{"0x00000000000000000000000000000000000cf475", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseEntityID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseEntityID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseEntityID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeTransactionID(t *testing.T) {
	tests := []struct {
		input  string
		atForm bool
		want   string
	}{
		{"0.0.88-1690000000-123456789", true, "0.0.88@1690000000.123456789"},
		{"0.0.88@1690000000.123456789", false, "0.0.88-1690000000-123456789"},
		{"garbage", true, "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeTransactionID(tt.input, tt.atForm); got != tt.want {
				t.Errorf("NormalizeTransactionID(%q, %v) = %q, want %q", tt.input, tt.atForm, got, tt.want)
			}
		})
	}
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{Network: "testnet", Store: "", PageSize: 500}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.BaseURL != NetworkBaseURLs["testnet"] {
		t.Errorf("Expected testnet base URL, got %s", cfg.BaseURL)
	}
	if cfg.Store != StoreNone {
		t.Errorf("Expected store %q, got %q", StoreNone, cfg.Store)
	}
	if cfg.PageSize != MaxPageLimit {
		t.Errorf("Expected page size clamped to %d, got %d", MaxPageLimit, cfg.PageSize)
	}

	bad := Config{Network: "moonnet"}
	if err := bad.Normalize(); err == nil {
		t.Error("Expected error for unknown network")
	}

	custom := Config{Network: "moonnet", BaseURL: "http://localhost:5551/", Store: "sqlite"}
	if err := custom.Normalize(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if custom.BaseURL != "http://localhost:5551" {
		t.Errorf("Expected trailing slash trimmed, got %s", custom.BaseURL)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MIRROR_NETWORK", "previewnet")
	t.Setenv("MIRROR_POLL_PERIOD", "2s")
	t.Setenv("MIRROR_MAX_UPDATES", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.BaseURL != NetworkBaseURLs["previewnet"] {
		t.Errorf("Expected previewnet base URL, got %s", cfg.BaseURL)
	}
	if cfg.PollPeriod != 2*time.Second {
		t.Errorf("Expected 2s poll period, got %v", cfg.PollPeriod)
	}
	if cfg.MaxUpdateCount != 3 {
		t.Errorf("Expected 3 max updates, got %d", cfg.MaxUpdateCount)
	}
}
