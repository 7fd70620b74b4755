// Package upload ships capture directories to a remote host over SFTP.
package upload

import (
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// DefaultTimeout bounds the SSH dial.
const DefaultTimeout = 30 * time.Second

// An Uploader pushes local capture directories to a remote directory.
// Each call dials a fresh connection; captures are occasional enough
// that holding a session open buys nothing.
type Uploader struct {
	host      string
	port      int
	user      string
	remoteDir string
	timeout   time.Duration

	auth    []ssh.AuthMethod
	hostKey ssh.HostKeyCallback
}

// An Option is a function which can apply configuration to an Uploader.
type Option func(u *Uploader) error

// WithPort overrides the default SSH port 22.
func WithPort(port int) Option {
	return func(u *Uploader) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("upload: invalid port %d", port)
		}
		u.port = port
		return nil
	}
}

// WithPassword adds password authentication.
func WithPassword(password string) Option {
	return func(u *Uploader) error {
		u.auth = append(u.auth, ssh.Password(password))
		return nil
	}
}

// WithKeyFile adds public-key authentication from a private key file.
func WithKeyFile(path string) Option {
	return func(u *Uploader) error {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("upload: failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return fmt.Errorf("upload: failed to parse key file: %w", err)
		}
		u.auth = append(u.auth, ssh.PublicKeys(signer))
		return nil
	}
}

// WithHostKey pins the expected server key, given in authorized_keys
// format.
func WithHostKey(line string) Option {
	return func(u *Uploader) error {
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return fmt.Errorf("upload: failed to parse host key: %w", err)
		}
		u.hostKey = ssh.FixedHostKey(key)
		return nil
	}
}

// WithInsecureHostKey disables host key verification.
func WithInsecureHostKey() Option {
	return func(u *Uploader) error {
		u.hostKey = ssh.InsecureIgnoreHostKey()
		return nil
	}
}

// WithTimeout bounds the SSH dial.
func WithTimeout(d time.Duration) Option {
	return func(u *Uploader) error {
		if d <= 0 {
			return fmt.Errorf("upload: timeout must be positive")
		}
		u.timeout = d
		return nil
	}
}

// WithRemoteDir sets the remote directory captures land under.
func WithRemoteDir(dir string) Option {
	return func(u *Uploader) error {
		u.remoteDir = dir
		return nil
	}
}

// New creates an Uploader for user@host using zero or more Option
// functions. At least one authentication method and a host key policy
// are required.
func New(host, user string, options ...Option) (*Uploader, error) {
	u := &Uploader{
		host:      host,
		user:      user,
		port:      22,
		remoteDir: ".",
		timeout:   DefaultTimeout,
	}
	for _, o := range options {
		if err := o(u); err != nil {
			return nil, err
		}
	}

	if u.host == "" {
		return nil, fmt.Errorf("upload: host is required")
	}
	if u.user == "" {
		return nil, fmt.Errorf("upload: user is required")
	}
	if len(u.auth) == 0 {
		return nil, fmt.Errorf("upload: no authentication method: provide a password or key file")
	}
	if u.hostKey == nil {
		return nil, fmt.Errorf("upload: no host key: pin one or explicitly skip verification")
	}
	return u, nil
}

// Addr returns the dial target.
func (u *Uploader) Addr() string {
	return net.JoinHostPort(u.host, strconv.Itoa(u.port))
}

// UploadDir copies every regular file in localDir into
// <remoteDir>/<base of localDir> and returns the remote path. Files are
// written under a temporary name and renamed into place so remote
// watchers never see partial content.
func (u *Uploader) UploadDir(localDir string) (string, error) {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return "", fmt.Errorf("upload: failed to read %s: %w", localDir, err)
	}

	config := &ssh.ClientConfig{
		User:            u.user,
		Auth:            u.auth,
		HostKeyCallback: u.hostKey,
		Timeout:         u.timeout,
	}
	conn, err := ssh.Dial("tcp", u.Addr(), config)
	if err != nil {
		return "", fmt.Errorf("upload: failed to connect to %s: %w", u.Addr(), err)
	}
	defer conn.Close()

	sftpc, err := sftp.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("upload: failed to start sftp: %w", err)
	}
	defer sftpc.Close()

	remote := remotePath(u.remoteDir, filepath.Base(localDir))
	if err := sftpc.MkdirAll(remote); err != nil {
		return "", fmt.Errorf("upload: failed to create %s: %w", remote, err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		src := filepath.Join(localDir, e.Name())
		dst := path.Join(remote, e.Name())
		if err := uploadFile(sftpc, src, dst); err != nil {
			return "", err
		}
	}
	return remote, nil
}

// remotePath joins with forward slashes regardless of the local OS.
func remotePath(remoteDir, base string) string {
	return path.Join(remoteDir, base)
}

func uploadFile(c *sftp.Client, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("upload: failed to open %s: %w", src, err)
	}
	defer in.Close()

	// Write to a temporary name so the final name only ever points at
	// complete content.
	tmp := dst + "." + strconv.FormatInt(time.Now().UnixNano(), 10)
	out, err := c.Create(tmp)
	if err != nil {
		return fmt.Errorf("upload: failed to create %s: %w", tmp, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("upload: failed to write %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("upload: failed to close %s: %w", tmp, err)
	}

	if err := c.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("upload: failed to replace %s: %w", dst, err)
	}
	if err := c.Rename(tmp, dst); err != nil {
		return fmt.Errorf("upload: failed to rename %s: %w", tmp, err)
	}
	return nil
}
