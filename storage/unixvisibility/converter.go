// Package unixvisibility maps abstract visibility onto unix permission bits.
package unixvisibility

import (
	"io/fs"

	"storagehx/storage"
)

const worldReadable fs.FileMode = 0o004

// Converter translates between storage.Visibility and permission modes.
// Inverse conversions never fail: unknown modes resolve to public or private.
type Converter interface {
	ForFile(visibility storage.Visibility) fs.FileMode
	ForDirectory(visibility storage.Visibility) fs.FileMode
	InverseForFile(mode fs.FileMode) storage.Visibility
	InverseForDirectory(mode fs.FileMode) storage.Visibility
	DefaultForDirectories() fs.FileMode
}

// PortableConverter uses the same modes on every unix-like backend.
type PortableConverter struct {
	filePublic            fs.FileMode
	filePrivate           fs.FileMode
	directoryPublic       fs.FileMode
	directoryPrivate      fs.FileMode
	defaultForDirectories storage.Visibility
}

type Option func(*PortableConverter)

func WithFileModes(public, private fs.FileMode) Option {
	return func(c *PortableConverter) {
		c.filePublic = public.Perm()
		c.filePrivate = private.Perm()
	}
}

func WithDirectoryModes(public, private fs.FileMode) Option {
	return func(c *PortableConverter) {
		c.directoryPublic = public.Perm()
		c.directoryPrivate = private.Perm()
	}
}

func WithDefaultForDirectories(visibility storage.Visibility) Option {
	return func(c *PortableConverter) {
		c.defaultForDirectories = visibility
	}
}

func NewPortableConverter(opts ...Option) *PortableConverter {
	c := &PortableConverter{
		filePublic:            0o644,
		filePrivate:           0o600,
		directoryPublic:       0o755,
		directoryPrivate:      0o700,
		defaultForDirectories: storage.Private,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PortableConverter) ForFile(visibility storage.Visibility) fs.FileMode {
	if visibility == storage.Public {
		return c.filePublic
	}
	return c.filePrivate
}

// ForDirectory includes fs.ModeDir; callers that only need permission bits
// take Perm() of the result.
func (c *PortableConverter) ForDirectory(visibility storage.Visibility) fs.FileMode {
	if visibility == storage.Public {
		return fs.ModeDir | c.directoryPublic
	}
	return fs.ModeDir | c.directoryPrivate
}

func (c *PortableConverter) InverseForFile(mode fs.FileMode) storage.Visibility {
	return inverse(mode.Perm(), c.filePublic, c.filePrivate)
}

func (c *PortableConverter) InverseForDirectory(mode fs.FileMode) storage.Visibility {
	return inverse(mode.Perm(), c.directoryPublic, c.directoryPrivate)
}

func (c *PortableConverter) DefaultForDirectories() fs.FileMode {
	return c.ForDirectory(c.defaultForDirectories)
}

func inverse(perm, public, private fs.FileMode) storage.Visibility {
	switch {
	case perm == public:
		return storage.Public
	case perm == private:
		return storage.Private
	case perm&worldReadable != 0:
		return storage.Public
	default:
		return storage.Private
	}
}
