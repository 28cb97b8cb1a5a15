package transport

import (
	"context"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"

	pkgLogger "github.com/fpt/signal-bot/pkg/logger"
)

// ErrUnsupportedScheme is returned by Dial for connection strings it cannot
// serve.
var ErrUnsupportedScheme = errors.New("transport: unsupported connection scheme")

// Schemes lists the connection string schemes Dial understands.
var Schemes = []string{"ipc", "tcp", "unix"}

// DefaultSignalCLIArgs are appended to `signal-cli jsonRpc` in ipc mode.
var DefaultSignalCLIArgs = []string{"--ignore-attachments", "--ignore-stories", "--send-read-receipts"}

type dialConfig struct {
	logger *pkgLogger.Logger
	args   []string
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

// WithDialLogger sets the untagged logger that connection events and the
// subprocess's stderr are logged through.
func WithDialLogger(l *pkgLogger.Logger) DialOption {
	return func(c *dialConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSignalCLIArgs replaces DefaultSignalCLIArgs.
func WithSignalCLIArgs(args ...string) DialOption {
	return func(c *dialConfig) { c.args = args }
}

// Dial opens the byte stream named by connection:
//
//	ipc://                      spawn signal-cli from $PATH
//	ipc:///opt/bin/signal-cli   spawn the given binary
//	tcp://localhost:7583        signal-cli daemon --tcp (honours ALL_PROXY)
//	unix:///run/signal-cli.sock signal-cli daemon --socket
func Dial(ctx context.Context, connection string, opts ...DialOption) (io.ReadWriteCloser, error) {
	cfg := &dialConfig{
		logger: pkgLogger.Default,
		args:   DefaultSignalCLIArgs,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	u, err := url.Parse(connection)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid connection string %q", connection)
	}

	log := cfg.logger.WithComponent("dial")
	switch strings.ToLower(u.Scheme) {
	case "ipc":
		return startProcess(u.Path, cfg.args, cfg.logger)
	case "tcp":
		if u.Port() == "" {
			return nil, errors.Errorf("tcp connection string %q needs host:port", connection)
		}
		conn, err := proxy.Dial(ctx, "tcp", u.Host)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s", u.Host)
		}
		log.InfoWithIntention(pkgLogger.IntentionConnect, "Connected to signal-cli", "addr", u.Host)
		return conn, nil
	case "unix":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", u.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to connect to %s", u.Path)
		}
		log.InfoWithIntention(pkgLogger.IntentionConnect, "Connected to signal-cli", "socket", u.Path)
		return conn, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedScheme, "%q (recognized: %s)", u.Scheme, strings.Join(Schemes, ", "))
	}
}
