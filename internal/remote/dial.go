package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/avast/retry-go/v5"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// DefaultRetryDelay is the base delay between dial attempts.
const DefaultRetryDelay = 500 * time.Millisecond

// Dialer opens SSH connections to deploy targets.
type Dialer struct {
	cfg        config.SSHConfig
	user       string
	logger     *logging.Logger
	retryDelay time.Duration
}

// NewDialer creates a Dialer. user is the login used for targets that do not
// name their own; logger may be nil.
func NewDialer(cfg config.SSHConfig, user string, logger *logging.Logger) *Dialer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Dialer{cfg: cfg, user: user, logger: logger, retryDelay: DefaultRetryDelay}
}

// Dial connects to spec ("[user@]host[:port]"), retrying transient failures
// with exponential backoff. Host key and authentication failures are not
// retried.
func (d *Dialer) Dial(ctx context.Context, spec string) (*SSHRunner, error) {
	target, err := ParseTarget(spec, d.user, d.cfg.Port)
	if err != nil {
		return nil, err
	}

	callback, err := HostKeyCallback(d.cfg.HostKeyPolicy, d.cfg.KnownHostsPath())
	if err != nil {
		return nil, err
	}
	auth, closeAuth := d.authMethods()
	defer closeAuth()
	if len(auth) == 0 {
		return nil, errors.NewConfigError("ssh.identity_file", errors.ErrMissingConfig).
			WithMessage("no SSH agent or identity file available")
	}

	clientCfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: callback,
		Timeout:         d.cfg.ConnectTimeout,
	}

	attempts := d.cfg.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}
	logger := d.logger.WithHost(target.String())

	client, err := retry.NewWithData[*ssh.Client](
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(d.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("ssh dial failed, retrying", "attempt", n+1, "error", err.Error())
		}),
	).Do(func() (*ssh.Client, error) {
		c, err := dialOnce(ctx, target.Addr(), clientCfg)
		if err != nil && permanentDialError(err) {
			return nil, retry.Unrecoverable(err)
		}
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}

	logger.Debug("ssh connected", "addr", target.Addr())
	return NewSSHRunner(client, target), nil
}

func dialOnce(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err)
	}
	// Bound the handshake as well as the TCP connect.
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func permanentDialError(err error) bool {
	return errors.Is(err, errors.ErrHostKeyMismatch) ||
		errors.Is(err, errors.ErrUnknownHostKey) ||
		strings.Contains(err.Error(), "unable to authenticate")
}

// authMethods collects agent and identity file signers. The returned func
// releases the agent socket.
func (d *Dialer) authMethods() ([]ssh.AuthMethod, func()) {
	var methods []ssh.AuthMethod
	closeFn := func() {}

	if d.cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				d.logger.Warn("ssh agent unavailable", "socket", sock, "error", err.Error())
			} else {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
				closeFn = func() { _ = conn.Close() }
			}
		}
	}

	if path := d.cfg.IdentityPath(); path != "" {
		signer, err := loadSigner(path)
		if err != nil {
			d.logger.Warn("identity file unusable", "path", path, "error", err.Error())
		} else {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}
	return methods, closeFn
}

func loadSigner(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("%s is passphrase protected; load it into ssh-agent instead", path)
	}
	return signer, err
}

// Connect returns a Runner for host using the configured transport.
func Connect(ctx context.Context, cfg *config.Config, host string, logger *logging.Logger) (Runner, error) {
	if cfg.Transport == config.TransportLocal {
		return NewLocalRunner(host), nil
	}
	r, err := NewDialer(cfg.SSH, cfg.User, logger).Dial(ctx, host)
	if err != nil {
		return nil, err
	}
	return r, nil
}
