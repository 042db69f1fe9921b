package testutil

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/remote"
)

var _ remote.Executor = (*FakeRemote)(nil)

type nodeKind int

const (
	kindDir nodeKind = iota
	kindFile
	kindLink
)

type node struct {
	kind    nodeKind
	content string
	mode    os.FileMode
}

// FakeRemote is an in-memory filesystem implementing remote.Executor. Every
// call is recorded as "<Op> <path>". Operations fail once ctx is done, so code
// that must keep working after cancellation is observable.
type FakeRemote struct {
	mu    sync.Mutex
	host  string
	nodes map[string]node
	calls []string

	// FailOn returns an error to inject for an operation, or nil.
	FailOn func(op, p string) error
	// OnRun handles Run; nil succeeds with empty output.
	OnRun func(ctx context.Context, cmd remote.Command) (remote.Result, error)
	closed bool
}

// NewFakeRemote returns an empty filesystem reporting itself as host.
func NewFakeRemote(host string) *FakeRemote {
	return &FakeRemote{host: host, nodes: map[string]node{"/": {kind: kindDir}}}
}

func (f *FakeRemote) execErr(op, p string) error {
	return errors.NewExecutionError("command failed", nil).
		WithHost(f.host).
		WithCommand(op + " " + p).
		WithExitStatus(1)
}

// enter records the call and returns the injected or context error.
func (f *FakeRemote) enter(ctx context.Context, op, p string) error {
	f.calls = append(f.calls, op+" "+p)
	if err := ctx.Err(); err != nil {
		return errors.NewExecutionError("command could not complete", err).WithHost(f.host)
	}
	if f.FailOn != nil {
		return f.FailOn(op, p)
	}
	return nil
}

func (f *FakeRemote) mkdirAll(p string) error {
	p = path.Clean(p)
	if n, ok := f.nodes[p]; ok {
		if n.kind != kindDir {
			return f.execErr("mkdir", p)
		}
		return nil
	}
	if p != "/" {
		if err := f.mkdirAll(path.Dir(p)); err != nil {
			return err
		}
	}
	f.nodes[p] = node{kind: kindDir, mode: 0o755}
	return nil
}

func (f *FakeRemote) parentIsDir(p string) bool {
	n, ok := f.nodes[path.Dir(p)]
	return ok && n.kind == kindDir
}

func (f *FakeRemote) removeTree(p string) {
	p = path.Clean(p)
	delete(f.nodes, p)
	prefix := p + "/"
	for k := range f.nodes {
		if strings.HasPrefix(k, prefix) {
			delete(f.nodes, k)
		}
	}
}

func (f *FakeRemote) children(dir string) []string {
	dir = path.Clean(dir)
	var names []string
	for k := range f.nodes {
		if k != dir && path.Dir(k) == dir {
			names = append(names, path.Base(k))
		}
	}
	sort.Strings(names)
	return names
}

// Host returns the configured host name.
func (f *FakeRemote) Host() string { return f.host }

// Closed reports whether Close was called.
func (f *FakeRemote) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Mode returns the permission bits recorded for p.
func (f *FakeRemote) Mode(p string) os.FileMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[path.Clean(p)].mode
}

// Content returns the body of the file at p.
func (f *FakeRemote) Content(p string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes[path.Clean(p)].content
}

// Close marks the fake closed.
func (f *FakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeRemote) Run(ctx context.Context, cmd remote.Command) (remote.Result, error) {
	f.mu.Lock()
	err := f.enter(ctx, "Run", cmd.String())
	handler := f.OnRun
	f.mu.Unlock()
	if err != nil {
		return remote.Result{ExitStatus: -1}, err
	}
	if handler != nil {
		return handler(ctx, cmd)
	}
	return remote.Result{}, nil
}

func (f *FakeRemote) Move(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Move", src+" "+dst); err != nil {
		return err
	}
	src, dst = path.Clean(src), path.Clean(dst)
	if _, ok := f.nodes[src]; !ok {
		return f.execErr("mv", src)
	}
	if _, ok := f.nodes[dst]; ok || !f.parentIsDir(dst) {
		return f.execErr("mv", dst)
	}
	moved := map[string]node{}
	for k, n := range f.nodes {
		if k == src || strings.HasPrefix(k, src+"/") {
			moved[dst+strings.TrimPrefix(k, src)] = n
		}
	}
	f.removeTree(src)
	for k, n := range moved {
		f.nodes[k] = n
	}
	return nil
}

func (f *FakeRemote) CreateDir(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CreateDir", p); err != nil {
		return err
	}
	return f.mkdirAll(p)
}

func (f *FakeRemote) RemoveDir(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "RemoveDir", p); err != nil {
		return err
	}
	f.removeTree(p)
	return nil
}

func (f *FakeRemote) RemoveFile(ctx context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "RemoveFile", p); err != nil {
		return err
	}
	p = path.Clean(p)
	if n, ok := f.nodes[p]; ok && n.kind == kindDir {
		return f.execErr("rm", p)
	}
	delete(f.nodes, p)
	return nil
}

func (f *FakeRemote) ReplaceSymlink(ctx context.Context, link, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ReplaceSymlink", link+" "+target); err != nil {
		return err
	}
	link = path.Clean(link)
	if n, ok := f.nodes[link]; (ok && n.kind == kindDir) || !f.parentIsDir(link) {
		return f.execErr("ln", link)
	}
	f.nodes[link] = node{kind: kindLink, content: target}
	return nil
}

func (f *FakeRemote) ListDir(ctx context.Context, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ListDir", dir); err != nil {
		return nil, err
	}
	if n, ok := f.nodes[path.Clean(dir)]; !ok || n.kind != kindDir {
		return nil, f.execErr("ls", dir)
	}
	return f.children(dir), nil
}

func (f *FakeRemote) Exists(ctx context.Context, p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Exists", p); err != nil {
		return false, err
	}
	_, ok := f.nodes[path.Clean(p)]
	return ok, nil
}

func (f *FakeRemote) ReadLink(ctx context.Context, p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ReadLink", p); err != nil {
		return "", err
	}
	if n, ok := f.nodes[path.Clean(p)]; ok && n.kind == kindLink {
		return n.content, nil
	}
	return "", nil
}

func (f *FakeRemote) CreateExclusive(ctx context.Context, p, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "CreateExclusive", p); err != nil {
		return err
	}
	p = path.Clean(p)
	if _, ok := f.nodes[p]; ok || !f.parentIsDir(p) {
		return f.execErr("set -C", p)
	}
	f.nodes[p] = node{kind: kindFile, content: content + "\n", mode: 0o644}
	return nil
}

func (f *FakeRemote) ReadFile(ctx context.Context, p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "ReadFile", p); err != nil {
		return "", err
	}
	n, ok := f.nodes[path.Clean(p)]
	if !ok || n.kind != kindFile {
		return "", f.execErr("cat", p)
	}
	return n.content, nil
}

func (f *FakeRemote) Touch(ctx context.Context, p string, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Touch", p); err != nil {
		return err
	}
	p = path.Clean(p)
	if !f.parentIsDir(p) {
		return f.execErr("touch", p)
	}
	n, ok := f.nodes[p]
	if !ok {
		n = node{kind: kindFile}
	}
	n.mode = mode
	f.nodes[p] = n
	return nil
}

func (f *FakeRemote) Chmod(ctx context.Context, p string, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(ctx, "Chmod", p); err != nil {
		return err
	}
	n, ok := f.nodes[path.Clean(p)]
	if !ok {
		return f.execErr("chmod", p)
	}
	n.mode = mode
	f.nodes[path.Clean(p)] = n
	return nil
}

// SeedDir creates p and its parents.
func (f *FakeRemote) SeedDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.mkdirAll(p)
}

// SeedFile writes a file, creating parents.
func (f *FakeRemote) SeedFile(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.mkdirAll(path.Dir(p))
	f.nodes[path.Clean(p)] = node{kind: kindFile, content: content}
}

// SeedLink creates a symlink, creating parents.
func (f *FakeRemote) SeedLink(p, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.mkdirAll(path.Dir(p))
	f.nodes[path.Clean(p)] = node{kind: kindLink, content: target}
}

// HasPath reports whether p exists.
func (f *FakeRemote) HasPath(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[path.Clean(p)]
	return ok
}

// LinkTarget returns the target of the symlink at p, or "".
func (f *FakeRemote) LinkTarget(p string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.nodes[path.Clean(p)]; ok && n.kind == kindLink {
		return n.content
	}
	return ""
}

// Children returns the sorted entry names of dir.
func (f *FakeRemote) Children(dir string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children(dir)
}

// Count returns how many recorded calls equal call.
func (f *FakeRemote) Count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// CountPrefix returns how many recorded calls start with prefix.
func (f *FakeRemote) CountPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Commands returns the command lines passed to Run, in order.
func (f *FakeRemote) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if cmd, ok := strings.CutPrefix(c, "Run "); ok {
			out = append(out, cmd)
		}
	}
	return out
}

// FailOp injects err for every call of op.
func FailOp(op string, err error) func(string, string) error {
	return func(gotOp, _ string) error {
		if gotOp == op {
			return err
		}
		return nil
	}
}

// FailWhen injects err for op on exactly path p.
func FailWhen(op, p string, err error) func(string, string) error {
	return func(gotOp, gotPath string) error {
		if gotOp == op && path.Clean(gotPath) == path.Clean(p) {
			return err
		}
		return nil
	}
}

// ErrInjected is a generic failure for FailOn hooks.
var ErrInjected = errors.New("injected failure")
