package remote

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// knownHostsMu serializes appends to known_hosts files across fan-out dials.
var knownHostsMu sync.Mutex

// HostKeyCallback builds the verification callback for policy against file.
//
// strict rejects unknown hosts. accept-new records unknown hosts in file and
// accepts them. Both reject a host whose key differs from the recorded one.
// insecure accepts any key.
func HostKeyCallback(policy, file string) (ssh.HostKeyCallback, error) {
	if policy == config.HostKeyInsecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if err := ensureFile(file); err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		// Reload on every call so keys added by concurrent dials are seen.
		check, err := knownhosts.New(file)
		if err != nil {
			return fmt.Errorf("read known hosts: %w", err)
		}

		err = check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("%w for %s (known_hosts line %d)", errors.ErrHostKeyMismatch, hostname, keyErr.Want[0].Line)
		}
		if policy != config.HostKeyAcceptNew {
			return fmt.Errorf("%w for %s", errors.ErrUnknownHostKey, hostname)
		}
		return AppendKnownHost(file, hostname, key)
	}, nil
}

// AppendKnownHost records key for address in file.
func AppendKnownHost(file, address string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	if err := ensureFile(file); err != nil {
		return err
	}
	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known hosts: %w", err)
	}
	defer func() { _ = f.Close() }()

	line := knownhosts.Line([]string{knownhosts.Normalize(address)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("write known hosts: %w", err)
	}
	return nil
}

// HasKey reports whether key is recorded for address in file. A recorded but
// different key yields ErrHostKeyMismatch.
func HasKey(file, address string, key ssh.PublicKey) (bool, error) {
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return false, nil
	}
	check, err := knownhosts.New(file)
	if err != nil {
		return false, fmt.Errorf("read known hosts: %w", err)
	}

	// The hostname takes precedence over the remote address when both are given.
	err = check(address, &net.TCPAddr{}, key)
	var keyErr *knownhosts.KeyError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &keyErr) && len(keyErr.Want) == 0:
		return false, nil
	case errors.As(err, &keyErr):
		return false, fmt.Errorf("%w for %s", errors.ErrHostKeyMismatch, address)
	default:
		return false, err
	}
}

// errKeyCaptured aborts a handshake once the host key has been seen.
var errKeyCaptured = errors.New("host key captured")

// ScanHostKey performs an SSH handshake with addr only far enough to learn its
// host key, like ssh-keyscan.
func ScanHostKey(ctx context.Context, addr string, timeout time.Duration) (ssh.PublicKey, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConnectionFailed, err)
	}
	defer func() { _ = conn.Close() }()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	var captured ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User: "keyscan",
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errKeyCaptured
		},
	}
	_, _, _, err = ssh.NewClientConn(conn, addr, cfg)
	if captured != nil {
		return captured, nil
	}
	if err == nil {
		err = errors.New("no host key presented")
	}
	return nil, fmt.Errorf("%w: scan %s: %w", errors.ErrConnectionFailed, addr, err)
}

func ensureFile(file string) error {
	if file == "" {
		return errors.NewConfigError("ssh.known_hosts", errors.ErrMissingConfig)
	}
	if _, err := os.Stat(file); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return fmt.Errorf("create known hosts dir: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create known hosts: %w", err)
	}
	return f.Close()
}
