// Package remote opens password-authenticated SSH + SFTP sessions to Windows
// build machines and runs cmd.exe commands on them.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/joescharf/courseforge/internal/models"
)

const defaultConnectTimeout = 30 * time.Second

// Options tunes Open.
type Options struct {
	Timeout time.Duration
	// Charset of remote command output, e.g. "gbk" for a Chinese Windows console.
	Charset string
	// KnownHostsFile enables host key verification. Empty accepts any host key.
	KnownHostsFile string
}

// Session is an open SSH client plus SFTP channel bound to one machine.
type Session struct {
	Machine *models.Machine

	ssh     *ssh.Client
	sftp    *sftp.Client
	decoder *encoding.Decoder

	closeOnce sync.Once
	closeErr  error
}

// Open connects to m, opens the SFTP channel and lists the remote root as a smoke test.
// On failure any partially opened connection is closed and an error is returned.
func Open(ctx context.Context, m *models.Machine, opts Options) (*Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultConnectTimeout
	}
	decoder, err := newDecoder(opts.Charset)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(opts.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            m.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(m.Secret())},
		HostKeyCallback: hostKeys,
		Timeout:         opts.Timeout,
	}

	addr := m.Address()
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(opts.Timeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}

	if _, err := sc.ReadDir(m.TransferRoot()); err != nil {
		_ = sc.Close()
		_ = client.Close()
		return nil, fmt.Errorf("sftp list %s: %w", m.TransferRoot(), err)
	}

	return &Session{Machine: m, ssh: client, sftp: sc, decoder: decoder}, nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		// Unknown host keys are trusted, matching the build LAN this tool targets.
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}

func newDecoder(charset string) (*encoding.Decoder, error) {
	if charset == "" {
		charset = "gbk"
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown remote charset %q: %w", charset, err)
	}
	return enc.NewDecoder(), nil
}

// Decode converts raw remote output to UTF-8, falling back to the raw bytes.
func Decode(d *encoding.Decoder, b []byte) string {
	if d == nil || len(b) == 0 {
		return string(b)
	}
	out, err := d.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// Execute runs command in a new SSH channel and returns its decoded output.
// A non-zero exit status is reported in Result, not as an error.
func (s *Session) Execute(ctx context.Context, command string) (Result, error) {
	sess, err := s.ssh.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open ssh channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = sess.Close()
		return Result{}, ctx.Err()
	case runErr = <-done:
	}

	res := Result{
		Stdout: Decode(s.decoder, stdout.Bytes()),
		Stderr: Decode(s.decoder, stderr.Bytes()),
	}
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
	case errors.As(runErr, &missing):
		res.ExitStatus = -1
	default:
		return res, fmt.Errorf("run remote command: %w", runErr)
	}
	return res, nil
}

// ReadDir lists a remote directory (slash-separated path).
func (s *Session) ReadDir(p string) ([]os.FileInfo, error) {
	return s.sftp.ReadDir(p)
}

// Mkdir creates one remote directory.
func (s *Session) Mkdir(p string) error {
	return s.sftp.Mkdir(p)
}

// Upload copies localPath from fs to remotePath, truncating any existing file.
func (s *Session) Upload(ctx context.Context, fs afero.Fs, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := s.sftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", remotePath, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	return dst.Close()
}

// Close releases the SFTP channel and the SSH connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.sftp != nil {
			if err := s.sftp.Close(); err != nil && !errors.Is(err, io.EOF) {
				errs = append(errs, err)
			}
		}
		if s.ssh != nil {
			if err := s.ssh.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
