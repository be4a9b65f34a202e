package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	TypeFile      = "file"
	TypeDirectory = "dir"
)

// StorageAttributes describes one entry of a listing or metadata query.
// It is implemented by *FileAttributes and *DirectoryAttributes only.
type StorageAttributes interface {
	Path() string
	Type() string
	Visibility() Visibility
	IsFile() bool
	IsDir() bool

	sealed()
}

// FileAttributes is immutable once built. Optional values report whether they
// are known.
type FileAttributes struct {
	path         string
	visibility   Visibility
	fileSize     *int64
	lastModified *int64
	mimeType     string
}

type FileOption func(*FileAttributes)

func WithFileSize(size int64) FileOption {
	return func(a *FileAttributes) {
		a.fileSize = &size
	}
}

// WithLastModified sets the modification time as a unix timestamp.
func WithLastModified(timestamp int64) FileOption {
	return func(a *FileAttributes) {
		a.lastModified = &timestamp
	}
}

func WithVisibility(visibility Visibility) FileOption {
	return func(a *FileAttributes) {
		a.visibility = visibility
	}
}

func WithMimeType(mimeType string) FileOption {
	return func(a *FileAttributes) {
		a.mimeType = mimeType
	}
}

func NewFileAttributes(path string, opts ...FileOption) *FileAttributes {
	a := &FileAttributes{path: normalizeAttributePath(path)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FileAttributes) Path() string           { return a.path }
func (a *FileAttributes) Type() string           { return TypeFile }
func (a *FileAttributes) Visibility() Visibility { return a.visibility }
func (a *FileAttributes) IsFile() bool           { return true }
func (a *FileAttributes) IsDir() bool            { return false }
func (a *FileAttributes) MimeType() string       { return a.mimeType }
func (a *FileAttributes) sealed()                {}

func (a *FileAttributes) FileSize() (int64, bool) {
	if a.fileSize == nil {
		return 0, false
	}
	return *a.fileSize, true
}

func (a *FileAttributes) LastModified() (int64, bool) {
	if a.lastModified == nil {
		return 0, false
	}
	return *a.lastModified, true
}

// DirectoryAttributes never carries a size or mime type.
type DirectoryAttributes struct {
	path       string
	visibility Visibility
}

func NewDirectoryAttributes(path string, visibility Visibility) *DirectoryAttributes {
	return &DirectoryAttributes{path: normalizeAttributePath(path), visibility: visibility}
}

func (a *DirectoryAttributes) Path() string           { return a.path }
func (a *DirectoryAttributes) Type() string           { return TypeDirectory }
func (a *DirectoryAttributes) Visibility() Visibility { return a.visibility }
func (a *DirectoryAttributes) IsFile() bool           { return false }
func (a *DirectoryAttributes) IsDir() bool            { return true }
func (a *DirectoryAttributes) sealed()                {}

func normalizeAttributePath(path string) string {
	return strings.TrimLeft(path, "/")
}

type attributesPayload struct {
	Type         string     `json:"type"`
	Path         string     `json:"path"`
	Visibility   Visibility `json:"visibility,omitempty"`
	FileSize     *int64     `json:"file_size,omitempty"`
	LastModified *int64     `json:"last_modified,omitempty"`
	MimeType     string     `json:"mime_type,omitempty"`
}

func (a *FileAttributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(attributesPayload{
		Type:         TypeFile,
		Path:         a.path,
		Visibility:   a.visibility,
		FileSize:     a.fileSize,
		LastModified: a.lastModified,
		MimeType:     a.mimeType,
	})
}

func (a *DirectoryAttributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(attributesPayload{
		Type:       TypeDirectory,
		Path:       a.path,
		Visibility: a.visibility,
	})
}

// UnmarshalAttributes decodes a payload produced by MarshalJSON.
func UnmarshalAttributes(data []byte) (StorageAttributes, error) {
	var p attributesPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return p.attributes()
}

// AttributesFromMap rebuilds attributes from a generic map, e.g. one decoded
// from JSON or TOML. Numeric values may be any integer or float type.
func AttributesFromMap(m map[string]any) (StorageAttributes, error) {
	p := attributesPayload{}
	p.Type, _ = m["type"].(string)
	p.Path, _ = m["path"].(string)
	if v, ok := m["visibility"].(string); ok {
		p.Visibility = Visibility(v)
	}
	if v, ok := m["mime_type"].(string); ok {
		p.MimeType = v
	}

	var err error
	if p.FileSize, err = int64Field(m, "file_size"); err != nil {
		return nil, err
	}
	if p.LastModified, err = int64Field(m, "last_modified"); err != nil {
		return nil, err
	}

	return p.attributes()
}

func (p attributesPayload) attributes() (StorageAttributes, error) {
	switch p.Type {
	case TypeDirectory:
		return NewDirectoryAttributes(p.Path, p.Visibility), nil
	case TypeFile:
		a := NewFileAttributes(p.Path, WithVisibility(p.Visibility), WithMimeType(p.MimeType))
		a.fileSize = p.FileSize
		a.lastModified = p.LastModified
		return a, nil
	default:
		return nil, fmt.Errorf("unknown attributes type %q", p.Type)
	}
}

func int64Field(m map[string]any, key string) (*int64, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}

	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint64:
		n = int64(v)
	case float64:
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		n = i
	default:
		return nil, fmt.Errorf("%s: unsupported type %T", key, raw)
	}
	return &n, nil
}
