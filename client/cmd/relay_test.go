package cmd

import (
	"testing"
	"time"

	"github.com/julienstroheker/relaycat/client/session"
	"github.com/julienstroheker/relaycat/internal/config"
	"github.com/spf13/cobra"
)

func TestRelayAddress(t *testing.T) {
	tests := []struct {
		name    string
		mode    config.Mode
		action  session.Action
		args    []string
		want    string
		wantErr bool
	}{
		{name: "connect host port", mode: config.ModeTCP, action: session.ActionConnect, args: []string{"example.com", "80"}, want: "example.com:80"},
		{name: "connect ipv6", mode: config.ModeTCP, action: session.ActionConnect, args: []string{"::1", "80"}, want: "[::1]:80"},
		{name: "connect address", mode: config.ModeTCP, action: session.ActionConnect, args: []string{"example.com:80"}, want: "example.com:80"},
		{name: "connect websocket url", mode: config.ModeWebSocket, action: session.ActionConnect, args: []string{"wss://example.com/x"}, want: "wss://example.com/x"},
		{name: "connect lone port", mode: config.ModeTCP, action: session.ActionConnect, args: []string{"80"}, wantErr: true},
		{name: "connect port zero", mode: config.ModeTCP, action: session.ActionConnect, args: []string{"example.com", "0"}, wantErr: true},
		{name: "connect bad port", mode: config.ModeTCP, action: session.ActionConnect, args: []string{"example.com", "http"}, wantErr: true},
		{name: "connect no address", mode: config.ModeTCP, action: session.ActionConnect, wantErr: true},
		{name: "listen port", mode: config.ModeTCP, action: session.ActionListen, args: []string{"9000"}, want: ":9000"},
		{name: "listen host port", mode: config.ModeUDP, action: session.ActionListen, args: []string{"127.0.0.1", "0"}, want: "127.0.0.1:0"},
		{name: "listen port out of range", mode: config.ModeTCP, action: session.ActionListen, args: []string{"70000"}, wantErr: true},
		{name: "hybrid without address", mode: config.ModeHybrid, action: session.ActionConnect, want: ""},
		{name: "hybrid listen without address", mode: config.ModeHybrid, action: session.ActionListen, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := relayAddress(tt.mode, tt.action, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("relayAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got: %q", tt.want, got)
			}
		})
	}
}

func applyFlags(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var f relayFlags
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg := &config.Config{
		Mode:       config.ModeTCP,
		Backend:    config.BackendAuto,
		BufferSize: 1024,
		RetryMax:   5 * time.Second,
	}
	return cfg, f.apply(cmd, cfg)
}

func TestRelayFlags_Apply(t *testing.T) {
	t.Run("unset flags keep the configuration", func(t *testing.T) {
		cfg, err := applyFlags(t)
		if err != nil {
			t.Fatalf("apply() error = %v", err)
		}
		if cfg.Mode != config.ModeTCP || cfg.BufferSize != 1024 || cfg.RetryMax != 5*time.Second {
			t.Errorf("Unexpected configuration: %+v", cfg)
		}
	})

	t.Run("flags override", func(t *testing.T) {
		cfg, err := applyFlags(t,
			"--mode", "QUIC",
			"--backend", "Async",
			"--buffer-size", "4096",
			"--retries", "3",
			"--retry-max", "1s",
			"--connect-timeout", "0",
			"--insecure",
			"--hc-namespace", "myrelay",
			"--hc-name", "hc1",
			"--hc-key-name", "policy",
			"--hc-key", "secret",
			"--hc-ensure",
		)
		if err != nil {
			t.Fatalf("apply() error = %v", err)
		}
		if cfg.Mode != config.ModeQUIC {
			t.Errorf("Expected quic, got: %s", cfg.Mode)
		}
		if cfg.Backend != config.BackendAsync {
			t.Errorf("Expected async, got: %s", cfg.Backend)
		}
		if cfg.BufferSize != 4096 || cfg.Retries != 3 || cfg.RetryMax != time.Second || cfg.ConnectTimeout != 0 {
			t.Errorf("Unexpected numeric settings: %+v", cfg)
		}
		if !cfg.Insecure {
			t.Error("Expected insecure")
		}
		want := config.HybridConfig{Namespace: "myrelay", Name: "hc1", KeyName: "policy", Key: "secret", Ensure: true}
		if cfg.Hybrid != want {
			t.Errorf("Expected %+v, got: %+v", want, cfg.Hybrid)
		}
	})

	t.Run("udp shorthand", func(t *testing.T) {
		cfg, err := applyFlags(t, "-u")
		if err != nil {
			t.Fatalf("apply() error = %v", err)
		}
		if cfg.Mode != config.ModeUDP {
			t.Errorf("Expected udp, got: %s", cfg.Mode)
		}
	})

	errorCases := map[string][]string{
		"both shorthands":    {"-t", "-u"},
		"shorthand and mode": {"-u", "--mode", "ws"},
		"unknown mode":       {"--mode", "sctp"},
	}
	for name, args := range errorCases {
		t.Run(name, func(t *testing.T) {
			if _, err := applyFlags(t, args...); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
