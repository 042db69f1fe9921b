package remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"golang.org/x/crypto/ssh"
)

func newTestKey(t *testing.T) (ssh.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer, priv
}

func TestAppendKnownHost_HasKey(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ssh", "known_hosts")
	key, _ := newTestKey(t)
	other, _ := newTestKey(t)

	if ok, err := HasKey(file, "app1:22", key.PublicKey()); err != nil || ok {
		t.Fatalf("HasKey on missing file = %v, %v", ok, err)
	}

	if err := AppendKnownHost(file, "app1:22", key.PublicKey()); err != nil {
		t.Fatalf("AppendKnownHost: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "app1 ssh-ed25519 ") {
		t.Errorf("known_hosts = %q", data)
	}

	if ok, err := HasKey(file, "app1:22", key.PublicKey()); err != nil || !ok {
		t.Errorf("HasKey(recorded) = %v, %v", ok, err)
	}
	if ok, err := HasKey(file, "app2:22", key.PublicKey()); err != nil || ok {
		t.Errorf("HasKey(other host) = %v, %v", ok, err)
	}
	if _, err := HasKey(file, "app1:22", other.PublicKey()); !errors.Is(err, errors.ErrHostKeyMismatch) {
		t.Errorf("HasKey(changed key) error = %v, want ErrHostKeyMismatch", err)
	}

	// Non-default ports are recorded in bracket form.
	if err := AppendKnownHost(file, "app1:2222", other.PublicKey()); err != nil {
		t.Fatal(err)
	}
	if ok, err := HasKey(file, "app1:2222", other.PublicKey()); err != nil || !ok {
		t.Errorf("HasKey(app1:2222) = %v, %v", ok, err)
	}
}

func TestHostKeyCallback(t *testing.T) {
	key, _ := newTestKey(t)
	other, _ := newTestKey(t)
	remote := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 22}

	t.Run("strict rejects unknown hosts", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "known_hosts")
		cb, err := HostKeyCallback(config.HostKeyStrict, file)
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("app1:22", remote, key.PublicKey()); !errors.Is(err, errors.ErrUnknownHostKey) {
			t.Errorf("callback error = %v, want ErrUnknownHostKey", err)
		}
	})

	t.Run("accept-new records then pins", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "known_hosts")
		cb, err := HostKeyCallback(config.HostKeyAcceptNew, file)
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("app1:22", remote, key.PublicKey()); err != nil {
			t.Fatalf("first contact: %v", err)
		}
		if err := cb("app1:22", remote, key.PublicKey()); err != nil {
			t.Errorf("second contact: %v", err)
		}
		if err := cb("app1:22", remote, other.PublicKey()); !errors.Is(err, errors.ErrHostKeyMismatch) {
			t.Errorf("changed key error = %v, want ErrHostKeyMismatch", err)
		}

		strict, err := HostKeyCallback(config.HostKeyStrict, file)
		if err != nil {
			t.Fatal(err)
		}
		if err := strict("app1:22", remote, key.PublicKey()); err != nil {
			t.Errorf("strict after accept-new: %v", err)
		}
	})

	t.Run("insecure accepts anything", func(t *testing.T) {
		cb, err := HostKeyCallback(config.HostKeyInsecure, "")
		if err != nil {
			t.Fatal(err)
		}
		if err := cb("app1:22", remote, other.PublicKey()); err != nil {
			t.Errorf("insecure callback: %v", err)
		}
	})

	t.Run("missing file path", func(t *testing.T) {
		_, err := HostKeyCallback(config.HostKeyStrict, "")
		var cfgErr *errors.ConfigError
		if !errors.As(err, &cfgErr) || cfgErr.Key != "ssh.known_hosts" {
			t.Errorf("error = %v, want ConfigError for ssh.known_hosts", err)
		}
	})
}
