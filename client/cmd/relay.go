package cmd

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/julienstroheker/relaycat/client/session"
	"github.com/julienstroheker/relaycat/internal/config"
	"github.com/julienstroheker/relaycat/internal/relay"
	"github.com/spf13/cobra"
)

// relayFlags are the flags shared by connect and listen. They override the
// environment configuration only when given.
type relayFlags struct {
	mode           string
	tcp            bool
	udp            bool
	backend        string
	bufferSize     int
	retries        int
	retryMax       time.Duration
	connectTimeout time.Duration
	proxy          string
	insecure       bool
	hcNamespace    string
	hcName         string
	hcKeyName      string
	hcKey          string
	hcEnsure       bool
}

func (f *relayFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.mode, "mode", "m", string(config.ModeTCP), "Transport: tcp, udp, ws, quic, mux or hc")
	fs.BoolVarP(&f.tcp, "tcp", "t", false, "Use TCP (same as --mode tcp)")
	fs.BoolVarP(&f.udp, "udp", "u", false, "Use UDP (same as --mode udp)")
	fs.StringVar(&f.backend, "backend", string(config.BackendAuto), "Readiness backend: auto, fd or async")
	fs.IntVar(&f.bufferSize, "buffer-size", relay.DefaultBufferSize, "Capacity of each direction buffer in bytes")
	fs.IntVar(&f.retries, "retries", 0, "Extra connection attempts")
	fs.DurationVar(&f.retryMax, "retry-max", 5*time.Second, "Maximum delay between connection attempts")
	fs.DurationVar(&f.connectTimeout, "connect-timeout", 10*time.Second, "Timeout of each connection attempt (0 for none)")
	fs.StringVar(&f.proxy, "proxy", "", "SOCKS5 proxy host:port for tcp and mux")
	fs.BoolVar(&f.insecure, "insecure", false, "Skip TLS certificate verification (quic, wss)")
	fs.StringVar(&f.hcNamespace, "hc-namespace", "", "Azure Relay namespace (hc mode)")
	fs.StringVar(&f.hcName, "hc-name", "", "Hybrid connection name (hc mode)")
	fs.StringVar(&f.hcKeyName, "hc-key-name", "", "Shared access policy name; Azure AD is used when empty")
	fs.StringVar(&f.hcKey, "hc-key", "", "Shared access policy key")
	fs.BoolVar(&f.hcEnsure, "hc-ensure", false, "Create the hybrid connection before use")
}

// apply copies every flag given on the command line into cfg
func (f *relayFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if f.tcp && f.udp {
		return fmt.Errorf("-t and -u cannot be combined")
	}
	if (f.tcp || f.udp) && changed("mode") {
		return fmt.Errorf("-t and -u cannot be combined with --mode")
	}

	switch {
	case f.tcp:
		cfg.Mode = config.ModeTCP
	case f.udp:
		cfg.Mode = config.ModeUDP
	case changed("mode"):
		mode, err := config.ParseMode(f.mode)
		if err != nil {
			return err
		}
		cfg.Mode = mode
	}

	if changed("backend") {
		cfg.Backend = config.Backend(strings.ToLower(strings.TrimSpace(f.backend)))
	}
	if changed("buffer-size") {
		cfg.BufferSize = f.bufferSize
	}
	if changed("retries") {
		cfg.Retries = f.retries
	}
	if changed("retry-max") {
		cfg.RetryMax = f.retryMax
	}
	if changed("connect-timeout") {
		cfg.ConnectTimeout = f.connectTimeout
	}
	if changed("proxy") {
		cfg.Proxy = f.proxy
	}
	if changed("insecure") {
		cfg.Insecure = f.insecure
	}
	if changed("hc-namespace") {
		cfg.Hybrid.Namespace = f.hcNamespace
	}
	if changed("hc-name") {
		cfg.Hybrid.Name = f.hcName
	}
	if changed("hc-key-name") {
		cfg.Hybrid.KeyName = f.hcKeyName
	}
	if changed("hc-key") {
		cfg.Hybrid.Key = f.hcKey
	}
	if changed("hc-ensure") {
		cfg.Hybrid.Ensure = f.hcEnsure
	}
	return nil
}

func parsePort(port string, allowZero bool) error {
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	if n < 0 || n > 65535 || (n == 0 && !allowZero) {
		return fmt.Errorf("port %d out of range", n)
	}
	return nil
}

func isPort(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// relayAddress builds the address from the positional arguments. Connect
// takes "host port" or one address, listen also accepts a lone port.
// Hybrid connections are addressed by name and take no arguments.
func relayAddress(mode config.Mode, action session.Action, args []string) (string, error) {
	switch len(args) {
	case 0:
		if mode == config.ModeHybrid {
			return "", nil
		}
		return "", fmt.Errorf("an address is required in %s mode", mode)

	case 1:
		if isPort(args[0]) {
			if action != session.ActionListen {
				return "", fmt.Errorf("a host is required to connect")
			}
			if err := parsePort(args[0], true); err != nil {
				return "", err
			}
			return net.JoinHostPort("", args[0]), nil
		}
		return args[0], nil

	default:
		if err := parsePort(args[1], action == session.ActionListen); err != nil {
			return "", err
		}
		return net.JoinHostPort(args[0], args[1]), nil
	}
}

// runRelay runs one session and maps its result to an exit status
func (a *app) runRelay(cmd *cobra.Command, action session.Action, args []string) error {
	address, err := relayAddress(a.cfg.Mode, action, args)
	if err != nil {
		return usageError(err)
	}

	ctx := cmd.Context()
	result, err := session.Run(ctx, &session.Options{
		Config:  a.cfg,
		Action:  action,
		Address: address,
		Input:   cmd.InOrStdin(),
		Output:  cmd.OutOrStdout(),
		Logger:  a.logger,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return &ExitError{Code: relay.OutcomeCanceled.ExitCode()}
		case session.IsConnectError(err):
			return &ExitError{Code: ExitConnect, Err: err}
		case errors.Is(err, session.ErrBackendUnavailable):
			return usageError(err)
		default:
			return &ExitError{Code: relay.OutcomeIOError.ExitCode(), Err: err}
		}
	}

	if result.Outcome == relay.OutcomeSuccess {
		return nil
	}
	return &ExitError{Code: result.Outcome.ExitCode()}
}
