package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"RELAYCAT_MODE",
	"RELAYCAT_BACKEND",
	"RELAYCAT_BUFFER_SIZE",
	"RELAYCAT_LOG_LEVEL",
	"RELAYCAT_RETRIES",
	"RELAYCAT_RETRY_MAX",
	"RELAYCAT_CONNECT_TIMEOUT",
	"RELAYCAT_PROXY",
	"RELAYCAT_INSECURE",
	"RELAYCAT_HC_NAMESPACE",
	"RELAYCAT_HC_NAME",
	"RELAYCAT_HC_KEY_NAME",
	"RELAYCAT_HC_KEY",
	"RELAYCAT_HC_ENSURE",
	"AZURE_SUBSCRIPTION_ID",
	"AZURE_RESOURCE_GROUP",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

type invocation struct {
	code   int
	stdout string
	stderr string
}

func runCommand(t *testing.T, ctx context.Context, stdin io.Reader, args ...string) invocation {
	t.Helper()

	rootCmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	code := run(ctx, rootCmd, args)
	return invocation{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func startServer(t *testing.T, handle func(c *net.TCPConn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = c.Close() }()
				handle(c.(*net.TCPConn))
			}()
		}
	}()
	return ln.Addr().String()
}

func TestRootCommand_Structure(t *testing.T) {
	rootCmd := NewRootCommand()

	for _, name := range []string{"connect", "listen"} {
		sub, _, err := rootCmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Errorf("Expected a %s command, got: %v", name, err)
			continue
		}
		for _, flag := range []string{"mode", "tcp", "udp", "backend", "buffer-size", "retries", "proxy", "hc-name"} {
			if sub.Flags().Lookup(flag) == nil {
				t.Errorf("Expected %s to have --%s", name, flag)
			}
		}
	}

	for _, flag := range []string{"verbose", "json"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("Expected persistent flag --%s", flag)
		}
	}
	if f := rootCmd.PersistentFlags().ShorthandLookup("v"); f == nil || f.Name != "verbose" {
		t.Error("Expected -v to be --verbose")
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown command", args: []string{"serve"}},
		{name: "unknown flag", args: []string{"connect", "--nope", "localhost", "80"}},
		{name: "too many arguments", args: []string{"connect", "a", "b", "c"}},
		{name: "missing address", args: []string{"connect"}},
		{name: "invalid mode", args: []string{"connect", "--mode", "sctp", "localhost", "80"}},
		{name: "invalid buffer size", args: []string{"connect", "--buffer-size", "0", "localhost", "80"}},
		{name: "hybrid without namespace", args: []string{"connect", "-m", "hc"}},
		{name: "proxy with udp", args: []string{"connect", "-u", "--proxy", "127.0.0.1:1080", "localhost", "80"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			got := runCommand(t, context.Background(), strings.NewReader(""), tt.args...)
			if got.code != ExitUsage {
				t.Errorf("Expected exit code %d, got: %d (stderr: %s)", ExitUsage, got.code, got.stderr)
			}
			if !strings.Contains(got.stderr, "Error:") {
				t.Errorf("Expected an error message on stderr, got: %q", got.stderr)
			}
		})
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	clearEnv(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	got := runCommand(t, context.Background(), strings.NewReader(""), "connect", addr)
	if got.code != ExitConnect {
		t.Errorf("Expected exit code %d, got: %d (stderr: %s)", ExitConnect, got.code, got.stderr)
	}
}

func TestRun_Echo(t *testing.T) {
	clearEnv(t)

	addr := startServer(t, func(c *net.TCPConn) {
		_, _ = io.Copy(c, c)
		_ = c.CloseWrite()
	})
	host, port, _ := net.SplitHostPort(addr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := runCommand(t, ctx, strings.NewReader("hello relay"), "connect", "--json", host, port)
	if got.code != 0 {
		t.Fatalf("Expected exit code 0, got: %d (stderr: %s)", got.code, got.stderr)
	}
	if got.stdout != "hello relay" {
		t.Errorf("Expected stdout %q, got: %q", "hello relay", got.stdout)
	}
	if strings.Contains(got.stdout, "session_id") {
		t.Error("Expected logs to stay off stdout")
	}
	if !strings.Contains(got.stderr, `"session_id"`) {
		t.Errorf("Expected JSON logs with a session id on stderr, got: %s", got.stderr)
	}
}

func TestRun_OutcomeExitCodes(t *testing.T) {
	t.Run("protocol violation", func(t *testing.T) {
		clearEnv(t)

		addr := startServer(t, func(c *net.TCPConn) {})
		stdin, stdinW := io.Pipe()
		defer func() { _ = stdinW.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		got := runCommand(t, ctx, stdin, "connect", addr)
		if got.code != 2 {
			t.Errorf("Expected exit code 2, got: %d (stderr: %s)", got.code, got.stderr)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		clearEnv(t)

		hold := make(chan struct{})
		defer close(hold)
		addr := startServer(t, func(c *net.TCPConn) { <-hold })
		stdin, stdinW := io.Pipe()
		defer func() { _ = stdinW.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		got := runCommand(t, ctx, stdin, "connect", addr)
		if got.code != 130 {
			t.Errorf("Expected exit code 130, got: %d (stderr: %s)", got.code, got.stderr)
		}
	})

	t.Run("canceled while listening", func(t *testing.T) {
		clearEnv(t)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		got := runCommand(t, ctx, strings.NewReader(""), "listen", "127.0.0.1", "0")
		if got.code != 130 {
			t.Errorf("Expected exit code 130, got: %d (stderr: %s)", got.code, got.stderr)
		}
	})
}

func TestExitError(t *testing.T) {
	tests := []struct {
		err  *ExitError
		want string
	}{
		{err: &ExitError{Code: 3}, want: "exit status 3"},
		{err: &ExitError{Code: ExitUsage, Err: io.ErrUnexpectedEOF}, want: io.ErrUnexpectedEOF.Error()},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got: %q", tt.want, got)
		}
	}
}
