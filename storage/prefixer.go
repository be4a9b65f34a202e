package storage

import "strings"

// PathPrefixer maps logical paths onto a backend root and back.
type PathPrefixer struct {
	prefix    string
	separator string
}

// NewPathPrefixer creates a prefixer rooted at prefix. An empty separator
// defaults to "/". A non-empty prefix always ends with exactly one separator.
func NewPathPrefixer(prefix, separator string) PathPrefixer {
	if separator == "" {
		separator = "/"
	}

	p := strings.TrimRight(prefix, `\/`)
	if prefix != "" {
		p += separator
	}

	return PathPrefixer{prefix: p, separator: separator}
}

func (p PathPrefixer) Prefix() string {
	return p.prefix
}

// PrefixPath prepends the root to path after stripping its leading separators.
func (p PathPrefixer) PrefixPath(path string) string {
	return p.prefix + strings.TrimLeft(path, `\/`)
}

// StripPrefix is the left inverse of PrefixPath.
func (p PathPrefixer) StripPrefix(path string) string {
	if len(path) < len(p.prefix) {
		return ""
	}
	return path[len(p.prefix):]
}
