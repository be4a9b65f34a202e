package ftp

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/jlaffaye/ftp"
)

// ConnectionProvider opens and authenticates a new session. Failures are
// returned as *storage.ConnectionError.
type ConnectionProvider interface {
	CreateConnection(options ConnectionOptions) (Conn, error)
}

// DialProvider connects with jlaffaye/ftp. With SSL enabled the control and
// data channels use implicit TLS.
type DialProvider struct {
	// TLSConfig is cloned for every connection. ServerName defaults to the
	// configured host.
	TLSConfig *tls.Config
}

func (p DialProvider) CreateConnection(o ConnectionOptions) (Conn, error) {
	if !o.Passive {
		return nil, connectionError(o, ReasonPassive, errActiveMode)
	}

	t := &tap{dialer: net.Dialer{Timeout: o.Timeout}}
	if o.SSL {
		t.tlsConfig = p.tlsConfig(o.Host)
	}

	server, err := ftp.Dial(o.Address(),
		ftp.DialWithTimeout(o.Timeout),
		ftp.DialWithDialFunc(t.dial),
		ftp.DialWithDisabledMLSD(true),
		ftp.DialWithDisabledUTF8(true),
		ftp.DialWithDisabledEPSV(o.DisableEPSV),
	)
	if err != nil {
		return nil, connectionError(o, ReasonConnect, err)
	}
	conn := &serverConn{server: server, tap: t, current: TransferBinary}

	if err := server.Login(o.Username, o.Password); err != nil {
		_ = conn.Close()
		return nil, connectionError(o, ReasonAuthenticate, err)
	}

	if o.SSL {
		for _, command := range []string{"PBSZ 0", "PROT P"} {
			if err := conn.expect(2, command); err != nil {
				_ = conn.Close()
				return nil, connectionError(o, ReasonSetOption, fmt.Errorf("%s: %w", command, err))
			}
		}
	}

	if o.UTF8 {
		code, lines, err := conn.Raw("OPTS UTF8 ON")
		if err == nil && code != ftp.StatusCommandOK && code != ftp.StatusCommandNotImplemented {
			err = fmt.Errorf("server replied %d %v", code, lines)
		}
		if err != nil {
			_ = conn.Close()
			return nil, connectionError(o, ReasonUTF8, err)
		}
	}

	if err := conn.setTransferMode(o.TransferMode); err != nil {
		_ = conn.Close()
		return nil, connectionError(o, ReasonSetOption, fmt.Errorf("transfer mode: %w", err))
	}

	return conn, nil
}

func (p DialProvider) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if p.TLSConfig != nil {
		cfg = p.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	// Servers commonly insist that data channels resume the control session.
	if cfg.ClientSessionCache == nil {
		cfg.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}
	return cfg
}
