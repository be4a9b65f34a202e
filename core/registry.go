package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"storagehx/config"
	"storagehx/metrics"
	"storagehx/protocols/ftp"
	"storagehx/protocols/local"
	"storagehx/protocols/memory"
	"storagehx/protocols/sftp"
	"storagehx/storage"
)

// Disk is a configured adapter together with its write defaults.
type Disk struct {
	Name    string
	Type    string
	Adapter storage.Adapter

	defaults map[string]any
	// adapters holding a session are not safe for concurrent use
	mu sync.Mutex
}

// Config returns the disk defaults overridden by options.
func (d *Disk) Config(options map[string]any) storage.Config {
	return storage.NewConfig(d.defaults).Extend(options)
}

// Probe checks the disk is reachable. Session-holding adapters are pinged;
// the others list their root.
func (d *Disk) Probe() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pinger, ok := d.Adapter.(storage.Pinger); ok {
		return pinger.Ping()
	}
	for _, err := range d.Adapter.ListContents("", false) {
		return err
	}
	return nil
}

type Registry struct {
	disks map[string]*Disk
}

type RegistryOption func(*registryOptions)

type registryOptions struct {
	logger     *zap.Logger
	instrument bool
}

func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

// WithInstrumentation wraps every adapter with Prometheus metrics.
func WithInstrumentation() RegistryOption {
	return func(o *registryOptions) {
		o.instrument = true
	}
}

// NewRegistry builds one adapter per configured disk. Remote adapters connect
// lazily, so no network traffic happens here.
func NewRegistry(cfg *config.Config, opts ...RegistryOption) (*Registry, error) {
	options := registryOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&options)
	}

	r := &Registry{disks: make(map[string]*Disk, len(cfg.Disks))}
	for _, d := range cfg.Disks {
		logger := options.logger.With(zap.String("disk", d.Name))

		adapter, err := createAdapter(d, logger)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("disk %q: %w", d.Name, err)
		}
		if options.instrument {
			adapter = metrics.Instrument(d.Name, adapter)
		}

		defaults := make(map[string]any)
		if d.Visibility != "" {
			defaults[storage.OptionVisibility] = storage.Visibility(d.Visibility)
		}
		if d.DirectoryVisibility != "" {
			defaults[storage.OptionDirectoryVisibility] = storage.Visibility(d.DirectoryVisibility)
		}

		r.disks[d.Name] = &Disk{Name: d.Name, Type: d.Type, Adapter: adapter, defaults: defaults}
		logger.Debug("disk registered", zap.String("type", d.Type), zap.String("root", d.Root))
	}
	return r, nil
}

func (r *Registry) Disk(name string) (*Disk, error) {
	d, ok := r.disks[name]
	if !ok {
		return nil, fmt.Errorf("unknown disk %q", name)
	}
	return d, nil
}

// Names returns the disk names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.disks))
	for name := range r.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Close() error {
	var result *multierror.Error
	for _, name := range r.Names() {
		if err := r.disks[name].Adapter.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close disk %q: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

func createAdapter(d config.Disk, logger *zap.Logger) (storage.Adapter, error) {
	switch d.Type {
	case config.TypeLocal:
		return local.NewAdapter(d.Root, local.WithLogger(logger))
	case config.TypeMemory:
		return memory.NewAdapter(), nil
	case config.TypeFTP:
		if d.Auth == nil {
			return nil, fmt.Errorf("auth required for ftp")
		}
		return createFTPAdapter(d, logger)
	case config.TypeSFTP:
		if d.Auth == nil {
			return nil, fmt.Errorf("auth required for sftp")
		}
		return createSFTPAdapter(d, logger)
	default:
		return nil, fmt.Errorf("unknown disk type: %s", d.Type)
	}
}

func createFTPAdapter(d config.Disk, logger *zap.Logger) (storage.Adapter, error) {
	options := ftp.NewConnectionOptions(d.Auth.Host, d.Root)
	if d.Auth.Port != 0 {
		options.Port = d.Auth.Port
	}
	options.Username = d.Auth.User
	options.Password = d.Auth.Password
	options.SSL = d.FTP.SSL
	options.UTF8 = d.FTP.UTF8
	options.Passive = d.FTP.PassiveMode()
	options.DisableEPSV = d.FTP.DisableEPSV
	options.RecurseManually = d.FTP.RecurseManually
	options.TimestampsOnUnixListings = d.FTP.TimestampsOnUnixListings
	options.SystemType = ftp.SystemType(strings.ToLower(d.FTP.SystemType))
	if d.FTP.TransferMode != "" {
		options.TransferMode = ftp.TransferMode(strings.ToLower(d.FTP.TransferMode))
	}
	if d.FTP.TimeoutSeconds > 0 {
		options.Timeout = time.Duration(d.FTP.TimeoutSeconds) * time.Second
	}

	checker, err := ftp.CheckerByName(d.FTP.ConnectivityCheck)
	if err != nil {
		return nil, err
	}
	return ftp.NewAdapter(options, ftp.WithConnectivityChecker(checker), ftp.WithLogger(logger))
}

func createSFTPAdapter(d config.Disk, logger *zap.Logger) (storage.Adapter, error) {
	options := sftp.NewConnectionOptions(d.Auth.Host, d.Auth.User, d.Root)
	if d.Auth.Port != 0 {
		options.Port = d.Auth.Port
	}
	options.Password = d.Auth.Password
	options.PrivateKey = d.Auth.PrivateKey
	options.Passphrase = d.Auth.Passphrase
	options.HostFingerprint = d.SFTP.HostFingerprint
	if d.SFTP.MaxTries > 0 {
		options.MaxTries = d.SFTP.MaxTries
	}
	if d.SFTP.TimeoutSeconds > 0 {
		options.Timeout = time.Duration(d.SFTP.TimeoutSeconds) * time.Second
	}

	return sftp.NewAdapter(options, sftp.WithLogger(logger))
}
