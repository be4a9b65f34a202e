package config

import (
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"storagehx/storage"
)

const (
	DefaultPath = "storagehx.toml"
	// PathEnv overrides DefaultPath when no path is given explicitly.
	PathEnv = "STORAGEHX_CONFIG"

	DefaultSchedule = "@every 1m"
)

// Disk types.
const (
	TypeFTP    = "ftp"
	TypeSFTP   = "sftp"
	TypeLocal  = "local"
	TypeMemory = "memory"
)

type Config struct {
	Log     Log     `toml:"log"`
	Metrics Metrics `toml:"metrics"`
	Disks   []Disk  `toml:"disks"`
	Probes  []Probe `toml:"probes"`
}

type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json, console
	Output string `toml:"output"` // stdout, stderr or a file path
}

type Metrics struct {
	Listen string `toml:"listen"`
}

type Disk struct {
	Name                string      `toml:"name"`
	Type                string      `toml:"type"` // ftp, sftp, local, memory
	Root                string      `toml:"root"`
	Visibility          string      `toml:"visibility"`
	DirectoryVisibility string      `toml:"directory_visibility"`
	Auth                *Auth       `toml:"auth,omitempty"`
	FTP                 FTPOptions  `toml:"ftp"`
	SFTP                SFTPOptions `toml:"sftp"`
}

type Auth struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	User       string `toml:"user"`
	Password   string `toml:"password"`
	PrivateKey string `toml:"private_key"`
	Passphrase string `toml:"passphrase"`
}

type FTPOptions struct {
	SSL                      bool   `toml:"ssl"`
	UTF8                     bool   `toml:"utf8"`
	Passive                  *bool  `toml:"passive"`
	TransferMode             string `toml:"transfer_mode"`
	RecurseManually          bool   `toml:"recurse_manually"`
	TimestampsOnUnixListings bool   `toml:"timestamps_on_unix_listings"`
	SystemType               string `toml:"system_type"`
	TimeoutSeconds           int    `toml:"timeout_seconds"`
	DisableEPSV              bool   `toml:"disable_epsv"`
	ConnectivityCheck        string `toml:"connectivity_check"`
}

// PassiveMode defaults to true when unset.
func (o FTPOptions) PassiveMode() bool {
	return o.Passive == nil || *o.Passive
}

type SFTPOptions struct {
	HostFingerprint string `toml:"host_fingerprint"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxTries        int    `toml:"max_tries"`
}

// Probe periodically checks that a disk is reachable.
type Probe struct {
	Disk     string `toml:"disk"`
	Schedule string `toml:"schedule"`
}

// ResolvePath picks the configuration file: explicit, then $STORAGEHX_CONFIG,
// then DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(PathEnv); env != "" {
		return env
	}
	return DefaultPath
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a TOML document and fills in defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	for i := range c.Probes {
		if c.Probes[i].Schedule == "" {
			c.Probes[i].Schedule = DefaultSchedule
		}
	}
}

// Disk returns the disk called name.
func (c *Config) Disk(name string) (Disk, bool) {
	for _, d := range c.Disks {
		if d.Name == name {
			return d, true
		}
	}
	return Disk{}, false
}

// Validate reports every problem found, not only the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	seen := make(map[string]bool)
	for i, d := range c.Disks {
		if d.Name == "" {
			result = multierror.Append(result, fmt.Errorf("disks[%d]: name is required", i))
			continue
		}
		if seen[d.Name] {
			result = multierror.Append(result, fmt.Errorf("disk %q: duplicate name", d.Name))
		}
		seen[d.Name] = true

		for _, err := range d.validate() {
			result = multierror.Append(result, fmt.Errorf("disk %q: %w", d.Name, err))
		}
	}

	probed := make(map[string]bool)
	for _, p := range c.Probes {
		if !seen[p.Disk] {
			result = multierror.Append(result, fmt.Errorf("probe: unknown disk %q", p.Disk))
		}
		if probed[p.Disk] {
			result = multierror.Append(result, fmt.Errorf("probe: disk %q is probed more than once", p.Disk))
		}
		probed[p.Disk] = true
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			result = multierror.Append(result, fmt.Errorf("probe %q: invalid schedule %q: %w", p.Disk, p.Schedule, err))
		}
	}

	return result.ErrorOrNil()
}

func (d Disk) validate() []error {
	var errs []error

	for key, value := range map[string]string{"visibility": d.Visibility, "directory_visibility": d.DirectoryVisibility} {
		if value == "" {
			continue
		}
		if _, err := storage.ParseVisibility(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	switch d.Type {
	case TypeFTP, TypeSFTP:
		if d.Auth == nil || d.Auth.Host == "" {
			errs = append(errs, fmt.Errorf("%s disks need [disks.auth] with a host", d.Type))
		}
		if !path.IsAbs(d.Root) {
			errs = append(errs, fmt.Errorf("root %q must be an absolute path", d.Root))
		}
	case TypeLocal:
		if d.Root == "" {
			errs = append(errs, errors.New("root is required"))
		}
	case TypeMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown type %q", d.Type))
	}

	return errs
}
