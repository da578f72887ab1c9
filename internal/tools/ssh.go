package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHBackend returns a Backend that executes on a remote host over SSH.
// File operations are implemented with shell primitives over exec sessions,
// which keeps the dependency surface to a single SSH client.
func SSHBackend(name, addr, user, keyPath string) (*Backend, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	if !strings.Contains(addr, ":") {
		addr += ":22"
	}

	conn := &sshConn{
		addr: addr,
		config: &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // trusted-host setup is the operator's call
			Timeout:         10 * time.Second,
		},
	}

	return &Backend{
		File: &sshFileOps{conn: conn},
		Exec: &sshExecOps{conn: conn},
		Name: name,
	}, nil
}

// sshConn lazily dials and caches one SSH client connection.
type sshConn struct {
	addr   string
	config *ssh.ClientConfig
	mu     sync.Mutex
	client *ssh.Client
}

func (c *sshConn) get() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := ssh.Dial("tcp", c.addr, c.config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", c.addr, err)
	}
	c.client = client
	return client, nil
}

// run executes a command in a fresh session, feeding stdin if non-nil.
func (c *sshConn) run(ctx context.Context, cmd string, stdin []byte) (string, string, int, error) {
	client, err := c.get()
	if err != nil {
		return "", "", 0, err
	}
	sess, err := client.NewSession()
	if err != nil {
		return "", "", 0, fmt.Errorf("ssh session: %w", err)
	}
	defer sess.Close() //nolint:errcheck

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if stdin != nil {
		sess.Stdin = bytes.NewReader(stdin)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), -1, ctx.Err()
	case err := <-done:
		exitCode := 0
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitStatus()
				err = nil
			}
		}
		return stdout.String(), stderr.String(), exitCode, err
	}
}

type sshExecOps struct {
	conn *sshConn
}

func (s *sshExecOps) Run(ctx context.Context, cmd string, args []string, env []string, workdir string) (string, string, int, error) {
	var sb strings.Builder
	for _, e := range env {
		sb.WriteString("export " + shellQuote(e) + "; ")
	}
	if workdir != "" {
		sb.WriteString("cd " + shellQuote(workdir) + " && ")
	}
	sb.WriteString(shellQuote(cmd))
	for _, a := range args {
		sb.WriteString(" " + shellQuote(a))
	}
	return s.conn.run(ctx, sb.String(), nil)
}

type sshFileOps struct {
	conn *sshConn
}

func (s *sshFileOps) ReadFile(ctx context.Context, p string) ([]byte, error) {
	stdout, stderr, code, err := s.conn.run(ctx, "cat "+shellQuote(p), nil)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("remote read %s: %s", p, strings.TrimSpace(stderr))
	}
	return []byte(stdout), nil
}

func (s *sshFileOps) WriteFile(ctx context.Context, p string, data []byte, perm os.FileMode) error {
	cmd := fmt.Sprintf("cat > %s && chmod %o %s", shellQuote(p), perm.Perm(), shellQuote(p))
	_, stderr, code, err := s.conn.run(ctx, cmd, data)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("remote write %s: %s", p, strings.TrimSpace(stderr))
	}
	return nil
}

func (s *sshFileOps) Stat(ctx context.Context, p string) (os.FileInfo, error) {
	stdout, _, code, err := s.conn.run(ctx, "stat -c '%s %F' "+shellQuote(p), nil)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fs.ErrNotExist
	}
	fields := strings.SplitN(strings.TrimSpace(stdout), " ", 2)
	size, _ := strconv.ParseInt(fields[0], 10, 64)
	isDir := len(fields) > 1 && strings.Contains(fields[1], "directory")
	return remoteFileInfo{name: path.Base(p), size: size, dir: isDir}, nil
}

func (s *sshFileOps) ReadDir(ctx context.Context, p string) ([]fs.DirEntry, error) {
	stdout, stderr, code, err := s.conn.run(ctx, "ls -1Ap "+shellQuote(p), nil)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("remote readdir %s: %s", p, strings.TrimSpace(stderr))
	}
	var entries []fs.DirEntry
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		dir := strings.HasSuffix(line, "/")
		entries = append(entries, remoteDirEntry{name: strings.TrimSuffix(line, "/"), dir: dir})
	}
	return entries, nil
}

func (s *sshFileOps) MkdirAll(ctx context.Context, p string, perm os.FileMode) error {
	_, stderr, code, err := s.conn.run(ctx, fmt.Sprintf("mkdir -p -m %o %s", perm.Perm(), shellQuote(p)), nil)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("remote mkdir %s: %s", p, strings.TrimSpace(stderr))
	}
	return nil
}

func (s *sshFileOps) Remove(ctx context.Context, p string) error {
	_, stderr, code, err := s.conn.run(ctx, "rm "+shellQuote(p), nil)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("remote remove %s: %s", p, strings.TrimSpace(stderr))
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type remoteFileInfo struct {
	name string
	size int64
	dir  bool
}

func (r remoteFileInfo) Name() string       { return r.name }
func (r remoteFileInfo) Size() int64        { return r.size }
func (r remoteFileInfo) Mode() os.FileMode  { return 0 }
func (r remoteFileInfo) ModTime() time.Time { return time.Time{} }
func (r remoteFileInfo) IsDir() bool        { return r.dir }
func (r remoteFileInfo) Sys() any           { return nil }

type remoteDirEntry struct {
	name string
	dir  bool
}

func (r remoteDirEntry) Name() string      { return r.name }
func (r remoteDirEntry) IsDir() bool       { return r.dir }
func (r remoteDirEntry) Type() fs.FileMode { return 0 }
func (r remoteDirEntry) Info() (fs.FileInfo, error) {
	return remoteFileInfo{name: r.name, dir: r.dir}, nil
}
