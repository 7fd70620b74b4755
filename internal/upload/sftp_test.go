package upload

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		user    string
		options []Option
		wantErr bool
	}{
		{
			name:    "password auth",
			host:    "files.local",
			user:    "swcap",
			options: []Option{WithPassword("secret"), WithInsecureHostKey()},
		},
		{
			name:    "missing host",
			user:    "swcap",
			options: []Option{WithPassword("secret"), WithInsecureHostKey()},
			wantErr: true,
		},
		{
			name:    "missing user",
			host:    "files.local",
			options: []Option{WithPassword("secret"), WithInsecureHostKey()},
			wantErr: true,
		},
		{
			name:    "no auth method",
			host:    "files.local",
			user:    "swcap",
			options: []Option{WithInsecureHostKey()},
			wantErr: true,
		},
		{
			name:    "no host key policy",
			host:    "files.local",
			user:    "swcap",
			options: []Option{WithPassword("secret")},
			wantErr: true,
		},
		{
			name:    "bad port",
			host:    "files.local",
			user:    "swcap",
			options: []Option{WithPassword("secret"), WithInsecureHostKey(), WithPort(99999)},
			wantErr: true,
		},
		{
			name:    "bad timeout",
			host:    "files.local",
			user:    "swcap",
			options: []Option{WithPassword("secret"), WithInsecureHostKey(), WithTimeout(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.host, tt.user, tt.options...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddrDefaultsAndOverride(t *testing.T) {
	u, err := New("files.local", "swcap", WithPassword("x"), WithInsecureHostKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := u.Addr(); got != "files.local:22" {
		t.Errorf("default addr = %q, want files.local:22", got)
	}

	u, err = New("files.local", "swcap", WithPassword("x"), WithInsecureHostKey(), WithPort(2222))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := u.Addr(); got != "files.local:2222" {
		t.Errorf("addr = %q, want files.local:2222", got)
	}
}

func TestWithHostKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("NewPublicKey: %v", err)
	}
	line := string(ssh.MarshalAuthorizedKey(sshPub))

	if _, err := New("h", "u", WithPassword("x"), WithHostKey(line)); err != nil {
		t.Errorf("valid host key rejected: %v", err)
	}
	if _, err := New("h", "u", WithPassword("x"), WithHostKey("not a key")); err == nil {
		t.Error("garbage host key accepted")
	}
}

func TestWithKeyFile(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	u, err := New("h", "u", WithKeyFile(keyPath), WithInsecureHostKey())
	if err != nil {
		t.Fatalf("New with key file: %v", err)
	}
	if len(u.auth) != 1 {
		t.Errorf("auth methods = %d, want 1", len(u.auth))
	}

	if _, err := New("h", "u", WithKeyFile(filepath.Join(t.TempDir(), "missing")), WithInsecureHostKey()); err == nil {
		t.Error("missing key file accepted")
	}
}

func TestRemotePath(t *testing.T) {
	tests := []struct {
		remoteDir string
		base      string
		want      string
	}{
		{"/data/captures", "5_channels_x", "/data/captures/5_channels_x"},
		{".", "5_channels_x", "5_channels_x"},
		{"captures/", "dir", "captures/dir"},
	}
	for _, tt := range tests {
		if got := remotePath(tt.remoteDir, tt.base); got != tt.want {
			t.Errorf("remotePath(%q, %q) = %q, want %q", tt.remoteDir, tt.base, got, tt.want)
		}
	}
}

func TestTimeoutDefault(t *testing.T) {
	u, err := New("h", "u", WithPassword("x"), WithInsecureHostKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if u.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", u.timeout, DefaultTimeout)
	}
	u, err = New("h", "u", WithPassword("x"), WithInsecureHostKey(), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if u.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", u.timeout)
	}
}
