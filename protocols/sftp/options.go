package sftp

import (
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	DefaultPort     = 22
	DefaultMaxTries = 4
	DefaultTimeout  = 10 * time.Second
)

// ConnectionOptions describes how to reach and authenticate against an SFTP
// server.
type ConnectionOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// PrivateKey is either a PEM block or the path of a key file.
	PrivateKey string
	Passphrase string
	// HostFingerprint pins the server key. "SHA256:..." values are compared
	// against the SHA256 fingerprint, anything else against the legacy MD5
	// one. Empty disables the check.
	HostFingerprint string
	MaxTries        int
	Timeout         time.Duration
	Root            string
}

func NewConnectionOptions(host, username, root string) ConnectionOptions {
	return ConnectionOptions{
		Host:     host,
		Port:     DefaultPort,
		Username: username,
		MaxTries: DefaultMaxTries,
		Timeout:  DefaultTimeout,
		Root:     root,
	}
}

func (o ConnectionOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Validate reports every problem at once.
func (o ConnectionOptions) Validate() error {
	var result *multierror.Error

	if o.Host == "" {
		result = multierror.Append(result, errors.New("host is required"))
	}
	if o.Port < 1 || o.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("port %d out of range", o.Port))
	}
	if o.Username == "" {
		result = multierror.Append(result, errors.New("username is required"))
	}
	if o.Password == "" && o.PrivateKey == "" {
		result = multierror.Append(result, errors.New("password or private key is required"))
	}
	if o.MaxTries < 1 {
		result = multierror.Append(result, fmt.Errorf("max tries %d must be positive", o.MaxTries))
	}
	if o.Timeout < 0 {
		result = multierror.Append(result, errors.New("timeout must not be negative"))
	}
	if !path.IsAbs(o.Root) {
		result = multierror.Append(result, fmt.Errorf("root %q must be an absolute path", o.Root))
	}

	return result.ErrorOrNil()
}

func (o ConnectionOptions) hasKeyFile() bool {
	return o.PrivateKey != "" && !strings.Contains(o.PrivateKey, "-----BEGIN")
}
