package remote

import (
	"bytes"
	"context"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"golang.org/x/crypto/ssh"
)

// testServer is a minimal SSH server that runs exec requests with sh.
type testServer struct {
	addr    string
	hostKey ssh.Signer

	ln    net.Listener
	wg    sync.WaitGroup
	mu    sync.Mutex
	conns []net.Conn
}

func startTestServer(t *testing.T, clientKey ssh.PublicKey) *testServer {
	t.Helper()

	hostKey, _ := newTestKey(t)
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientKey.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &testServer{addr: ln.Addr().String(), hostKey: hostKey, ln: ln}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn, cfg)
			}()
		}
	}()

	t.Cleanup(s.close)
	return s
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			serveSession(ch, chReqs)
		}()
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer func() { _ = ch.Close() }()

	for req := range reqs {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}
		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		cmd := exec.Command("sh", "-c", payload.Command)
		cmd.Stdout = ch
		cmd.Stderr = ch.Stderr()
		status := 0
		if err := cmd.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				status = exitErr.ExitCode()
			} else {
				status = 127
			}
		}
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

func (s *testServer) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// writeIdentity stores a client key in OpenSSH PEM form.
func writeIdentity(t *testing.T, dir string) ssh.Signer {
	t.Helper()
	signer, priv := newTestKey(t)
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "id_test"), pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return signer
}

func testSSHConfig(dir, policy string) config.SSHConfig {
	return config.SSHConfig{
		Port:           22,
		IdentityFile:   filepath.Join(dir, "id_test"),
		KnownHosts:     filepath.Join(dir, "known_hosts"),
		HostKeyPolicy:  policy,
		ConnectTimeout: 2 * time.Second,
		ConnectRetries: 2,
	}
}

func newTestDialer(cfg config.SSHConfig) *Dialer {
	d := NewDialer(cfg, "deploy", nil)
	d.retryDelay = time.Millisecond
	return d
}

func TestDialer_RunsCommands(t *testing.T) {
	dir := t.TempDir()
	client := writeIdentity(t, dir)
	srv := startTestServer(t, client.PublicKey())

	r, err := newTestDialer(testSSHConfig(dir, config.HostKeyAcceptNew)).Dial(context.Background(), srv.addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = r.Close() }()

	if !strings.HasPrefix(r.Target(), "deploy@127.0.0.1:") {
		t.Errorf("Target() = %q", r.Target())
	}

	res, err := r.Run(context.Background(), "echo hello; echo oops >&2; exit 4")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitStatus != 4 || strings.TrimSpace(res.Stdout) != "hello" || strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("Result = %+v", res)
	}

	// The first contact recorded the key, so a strict dial now succeeds.
	strict, err := newTestDialer(testSSHConfig(dir, config.HostKeyStrict)).Dial(context.Background(), srv.addr)
	if err != nil {
		t.Fatalf("strict Dial after accept-new: %v", err)
	}
	defer func() { _ = strict.Close() }()

	h := NewHost(strict, nil)
	if ok, err := h.Exists(context.Background(), dir); err != nil || !ok {
		t.Errorf("Exists over ssh = %v, %v", ok, err)
	}
}

func TestDialer_StrictRejectsUnknownHost(t *testing.T) {
	dir := t.TempDir()
	client := writeIdentity(t, dir)
	srv := startTestServer(t, client.PublicKey())

	_, err := newTestDialer(testSSHConfig(dir, config.HostKeyStrict)).Dial(context.Background(), srv.addr)
	if !errors.Is(err, errors.ErrUnknownHostKey) {
		t.Fatalf("Dial error = %v, want ErrUnknownHostKey", err)
	}
}

func TestDialer_RejectsChangedHostKey(t *testing.T) {
	dir := t.TempDir()
	client := writeIdentity(t, dir)
	srv := startTestServer(t, client.PublicKey())

	stale, _ := newTestKey(t)
	if err := AppendKnownHost(filepath.Join(dir, "known_hosts"), srv.addr, stale.PublicKey()); err != nil {
		t.Fatal(err)
	}

	_, err := newTestDialer(testSSHConfig(dir, config.HostKeyAcceptNew)).Dial(context.Background(), srv.addr)
	if !errors.Is(err, errors.ErrHostKeyMismatch) {
		t.Fatalf("Dial error = %v, want ErrHostKeyMismatch", err)
	}
}

func TestDialer_UnknownClientKey(t *testing.T) {
	dir := t.TempDir()
	writeIdentity(t, dir)
	stranger, _ := newTestKey(t)
	srv := startTestServer(t, stranger.PublicKey())

	_, err := newTestDialer(testSSHConfig(dir, config.HostKeyInsecure)).Dial(context.Background(), srv.addr)
	if err == nil || !strings.Contains(err.Error(), "unable to authenticate") {
		t.Fatalf("Dial error = %v, want authentication failure", err)
	}
}

func TestDialer_ConnectionRefused(t *testing.T) {
	dir := t.TempDir()
	writeIdentity(t, dir)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	_, err = newTestDialer(testSSHConfig(dir, config.HostKeyInsecure)).Dial(context.Background(), addr)
	if !errors.Is(err, errors.ErrConnectionFailed) {
		t.Fatalf("Dial error = %v, want ErrConnectionFailed", err)
	}
}

func TestDialer_NoCredentials(t *testing.T) {
	cfg := testSSHConfig(t.TempDir(), config.HostKeyInsecure)
	cfg.IdentityFile = ""

	_, err := newTestDialer(cfg).Dial(context.Background(), "127.0.0.1:1")
	var cfgErr *errors.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Dial error = %v, want ConfigError", err)
	}
}

func TestConnect_LocalTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Transport = config.TransportLocal

	r, err := Connect(context.Background(), cfg, "web1", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, ok := r.(*LocalRunner); !ok || r.Target() != "web1" {
		t.Errorf("Connect() = %T %q", r, r.Target())
	}
}
