/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store != "memory" {
		t.Errorf("expected default store 'memory', got %q", cfg.Store)
	}
	if cfg.DataDir != "data" {
		t.Errorf("expected default data dir 'data', got %q", cfg.DataDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.LowTimeout != 150*time.Millisecond || cfg.HighTimeout != 300*time.Millisecond {
		t.Errorf("expected default election window 150-300ms, got %v-%v", cfg.LowTimeout, cfg.HighTimeout)
	}
	if cfg.HBTime != 50*time.Millisecond {
		t.Errorf("expected default heartbeat interval 50ms, got %v", cfg.HBTime)
	}
}

func TestConfigValidation(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Addr = "127.0.0.1:5000"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"missing addr", func(c *Config) { c.Addr = "" }, true},
		{"malformed addr", func(c *Config) { c.Addr = "not-an-addr" }, true},
		{"malformed peer", func(c *Config) { c.Peers = []string{"bad"} }, true},
		{"valid peer", func(c *Config) { c.Peers = []string{"127.0.0.1:5001"} }, false},
		{"invalid store", func(c *Config) { c.Store = "postgres" }, true},
		{"low >= high timeout", func(c *Config) { c.LowTimeout = time.Second; c.HighTimeout = time.Millisecond }, true},
		{"zero heartbeat", func(c *Config) { c.HBTime = 0 }, true},
		{"zero max log wait", func(c *Config) { c.MaxLogWait = 0 }, true},
		{"invalid log level", func(c *Config) { c.LogLevel = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOW_TIMEOUT", "10")
	t.Setenv("HIGH_TIMEOUT", "20")
	t.Setenv("HB_TIME", "5")
	t.Setenv("MAX_LOG_WAIT", "200")
	t.Setenv("DATA_DIR", "/tmp/kvraft-data")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.LowTimeout != 10*time.Millisecond {
		t.Errorf("LowTimeout = %v, want 10ms", cfg.LowTimeout)
	}
	if cfg.HighTimeout != 20*time.Millisecond {
		t.Errorf("HighTimeout = %v, want 20ms", cfg.HighTimeout)
	}
	if cfg.HBTime != 5*time.Millisecond {
		t.Errorf("HBTime = %v, want 5ms", cfg.HBTime)
	}
	if cfg.MaxLogWait != 200*time.Millisecond {
		t.Errorf("MaxLogWait = %v, want 200ms", cfg.MaxLogWait)
	}
	if cfg.DataDir != "/tmp/kvraft-data" {
		t.Errorf("DataDir = %q, want /tmp/kvraft-data", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestApplyEnvRejectsNonInteger(t *testing.T) {
	t.Setenv("HB_TIME", "not-a-number")
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("expected error for non-integer HB_TIME")
	}
}
