// Package storage defines the uniform contract every storage backend implements,
// together with the attribute model, path prefixing and error taxonomy shared by
// all adapters.
package storage

import (
	"io"
)

// Adapter is implemented by every backend (FTP, SFTP, local disk, memory).
//
// Paths are logical: relative to the adapter root, forward-slash separated.
// A leading slash is tolerated and ignored.
type Adapter interface {
	FileExists(path string) (bool, error)

	Write(path string, contents []byte, config Config) error
	WriteStream(path string, contents io.Reader, config Config) error

	Read(path string) ([]byte, error)
	// ReadStream returns the file contents positioned at offset 0.
	ReadStream(path string) (io.ReadCloser, error)

	Delete(path string) error
	DeleteDirectory(path string) error
	CreateDirectory(path string, config Config) error

	SetVisibility(path string, visibility Visibility) error
	Visibility(path string) (*FileAttributes, error)
	MimeType(path string) (*FileAttributes, error)
	LastModified(path string) (*FileAttributes, error)
	FileSize(path string) (*FileAttributes, error)

	// ListContents returns a lazy listing. The backend is queried when
	// iteration starts, never before.
	ListContents(path string, deep bool) Listing

	Move(source, destination string, config Config) error
	Copy(source, destination string, config Config) error

	Close() error
}

// Pinger is implemented by adapters that hold a backend session. Ping
// establishes or validates that session without touching any file.
type Pinger interface {
	Ping() error
}
