package ftp

import (
	"fmt"

	"github.com/jlaffaye/ftp"
)

// ConnectivityChecker decides whether an existing session is still usable.
type ConnectivityChecker interface {
	IsConnected(conn Conn) bool
}

type ConnectivityCheckerFunc func(conn Conn) bool

func (f ConnectivityCheckerFunc) IsConnected(conn Conn) bool {
	return f(conn)
}

// NoopChecker sends NOOP and expects 200.
type NoopChecker struct{}

func (NoopChecker) IsConnected(conn Conn) bool {
	code, _, err := conn.Raw("NOOP")
	return err == nil && code == ftp.StatusCommandOK
}

// RawListChecker treats a successful LIST of the working directory as proof
// of life. Useful for servers that answer NOOP on dead sessions.
type RawListChecker struct{}

func (RawListChecker) IsConnected(conn Conn) bool {
	_, err := conn.RawList("", "./")
	return err == nil
}

// CheckerByName resolves the connectivity_check configuration value.
func CheckerByName(name string) (ConnectivityChecker, error) {
	switch name {
	case "", "noop":
		return NoopChecker{}, nil
	case "rawlist":
		return RawListChecker{}, nil
	default:
		return nil, fmt.Errorf("unknown connectivity check %q", name)
	}
}
