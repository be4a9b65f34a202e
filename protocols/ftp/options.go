package ftp

import (
	"errors"
	"fmt"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// TransferMode selects the FTP representation type used for RETR and STOR.
type TransferMode string

const (
	TransferBinary TransferMode = "binary"
	TransferASCII  TransferMode = "ascii"
)

// SystemType is the listing dialect of a server. SystemAuto detects it from
// the first listing line and keeps the result for the adapter's lifetime.
type SystemType string

const (
	SystemAuto    SystemType = ""
	SystemUnix    SystemType = "unix"
	SystemWindows SystemType = "windows"
)

const (
	DefaultPort    = 21
	DefaultTimeout = 90 * time.Second
)

// ConnectionOptions is fixed once the adapter is built.
type ConnectionOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	// Root must be absolute. Every logical path is resolved below it.
	Root string

	SSL          bool
	UTF8         bool
	Passive      bool
	DisableEPSV  bool
	TransferMode TransferMode
	SystemType   SystemType

	RecurseManually          bool
	TimestampsOnUnixListings bool

	Timeout time.Duration
}

// NewConnectionOptions returns options with the defaults filled in: port 21,
// passive mode, binary transfers and a 90 second timeout.
func NewConnectionOptions(host, root string) ConnectionOptions {
	return ConnectionOptions{
		Host:         host,
		Port:         DefaultPort,
		Root:         root,
		Passive:      true,
		TransferMode: TransferBinary,
		Timeout:      DefaultTimeout,
	}
}

func (o ConnectionOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Validate reports every problem with the options at once.
func (o ConnectionOptions) Validate() error {
	var errs *multierror.Error

	if o.Host == "" {
		errs = multierror.Append(errs, errors.New("host is required"))
	}
	if o.Port <= 0 || o.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("port %d out of range", o.Port))
	}
	if !path.IsAbs(o.Root) {
		errs = multierror.Append(errs, fmt.Errorf("root %q must be an absolute path", o.Root))
	}
	switch o.TransferMode {
	case TransferBinary, TransferASCII:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown transfer mode %q", o.TransferMode))
	}
	switch o.SystemType {
	case SystemAuto, SystemUnix, SystemWindows:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown system type %q", o.SystemType))
	}
	if o.Timeout < 0 {
		errs = multierror.Append(errs, errors.New("timeout must not be negative"))
	}

	return errs.ErrorOrNil()
}
