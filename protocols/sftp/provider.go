package sftp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	pkgsftp "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Session is an SFTP client together with the transport it runs on.
type Session struct {
	*pkgsftp.Client
	transport io.Closer
}

// NewSession wraps client. transport, when not nil, is closed after the
// client.
func NewSession(client *pkgsftp.Client, transport io.Closer) *Session {
	return &Session{Client: client, transport: transport}
}

func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.Client.Close(); err != nil && !errors.Is(err, io.EOF) {
		result = multierror.Append(result, err)
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ConnectionProvider opens a new authenticated session.
type ConnectionProvider interface {
	CreateConnection(options ConnectionOptions) (*Session, error)
}

type ConnectionProviderFunc func(options ConnectionOptions) (*Session, error)

func (f ConnectionProviderFunc) CreateConnection(options ConnectionOptions) (*Session, error) {
	return f(options)
}

// SSHProvider dials the server over SSH and starts the sftp subsystem.
// Connect failures are retried up to MaxTries; authentication and host key
// failures are not.
type SSHProvider struct {
	RetryDelay time.Duration
}

func (p SSHProvider) CreateConnection(o ConnectionOptions) (*Session, error) {
	auth, err := authMethods(o)
	if err != nil {
		return nil, connectionError(o, ReasonAuthenticate, err)
	}

	verifier := &hostKeyVerifier{fingerprint: o.HostFingerprint}
	config := &ssh.ClientConfig{
		User:            o.Username,
		Auth:            auth,
		HostKeyCallback: verifier.verify,
		Timeout:         o.Timeout,
	}

	var lastErr error
	for attempt := 1; attempt <= o.MaxTries; attempt++ {
		client, err := ssh.Dial("tcp", o.Address(), config)
		if err == nil {
			sftpClient, err := pkgsftp.NewClient(client)
			if err != nil {
				_ = client.Close()
				return nil, connectionError(o, ReasonConnect, err)
			}
			return NewSession(sftpClient, client), nil
		}

		switch {
		case verifier.rejected.Load():
			return nil, connectionError(o, ReasonHostAuthenticity, err)
		case strings.Contains(err.Error(), "unable to authenticate"):
			return nil, connectionError(o, ReasonAuthenticate, err)
		}

		lastErr = err
		if attempt < o.MaxTries && p.RetryDelay > 0 {
			time.Sleep(p.RetryDelay)
		}
	}
	return nil, connectionError(o, ReasonConnect, lastErr)
}

func authMethods(o ConnectionOptions) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if o.PrivateKey != "" {
		signer, err := loadSigner(o)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if o.Password != "" {
		methods = append(methods, ssh.Password(o.Password))
	}
	return methods, nil
}

func loadSigner(o ConnectionOptions) (ssh.Signer, error) {
	pem := []byte(o.PrivateKey)
	if o.hasKeyFile() {
		var err error
		if pem, err = os.ReadFile(o.PrivateKey); err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
	}

	if o.Passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(o.Passphrase))
	}
	return ssh.ParsePrivateKey(pem)
}

type hostKeyVerifier struct {
	fingerprint string
	rejected    atomic.Bool
}

func (v *hostKeyVerifier) verify(hostname string, _ net.Addr, key ssh.PublicKey) error {
	if v.fingerprint == "" || MatchesFingerprint(key, v.fingerprint) {
		return nil
	}
	v.rejected.Store(true)
	return fmt.Errorf("host key fingerprint mismatch for %s", hostname)
}

// MatchesFingerprint compares key against a "SHA256:..." fingerprint or a
// legacy colon separated MD5 one, optionally prefixed with "MD5:".
func MatchesFingerprint(key ssh.PublicKey, fingerprint string) bool {
	if strings.HasPrefix(fingerprint, "SHA256:") {
		return ssh.FingerprintSHA256(key) == fingerprint
	}
	return strings.EqualFold(ssh.FingerprintLegacyMD5(key), strings.TrimPrefix(fingerprint, "MD5:"))
}

// ConnectivityChecker decides whether a session can still serve requests.
type ConnectivityChecker interface {
	IsConnected(session *Session) bool
}

type ConnectivityCheckerFunc func(session *Session) bool

func (f ConnectivityCheckerFunc) IsConnected(session *Session) bool {
	return f(session)
}

// GetwdChecker round-trips a realpath request.
type GetwdChecker struct{}

func (GetwdChecker) IsConnected(session *Session) bool {
	_, err := session.Getwd()
	return err == nil
}
