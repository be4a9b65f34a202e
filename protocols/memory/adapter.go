// Package memory implements storage.Adapter in process memory. It backs tests
// and dry runs; nothing outlives the adapter.
package memory

import (
	"bytes"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"storagehx/storage"
)

// placeholder marks a directory that holds no files, so it still lists.
const placeholder = ".storagehx-directory"

var errNotFound = errors.New("file does not exist")

type file struct {
	contents     []byte
	lastModified int64
	visibility   storage.Visibility
}

// Adapter is safe for concurrent use.
type Adapter struct {
	mu       sync.RWMutex
	files    map[string]*file
	detector storage.MimeTypeDetector
	now      func() time.Time
	fallback storage.Visibility
}

var _ storage.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

func WithMimeTypeDetector(detector storage.MimeTypeDetector) Option {
	return func(a *Adapter) {
		a.detector = detector
	}
}

// WithClock sets the source of last-modified timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// WithDefaultVisibility sets the visibility of files written without one.
func WithDefaultVisibility(visibility storage.Visibility) Option {
	return func(a *Adapter) {
		a.fallback = visibility
	}
}

func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		files:    make(map[string]*file),
		detector: storage.DefaultMimeTypeDetector{},
		now:      time.Now,
		fallback: storage.Public,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Close() error {
	return nil
}

func clean(p string) string {
	return strings.Trim(p, "/")
}

func (a *Adapter) lookup(p string) (*file, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.files[clean(p)]
	return f, ok
}

func (a *Adapter) FileExists(p string) (bool, error) {
	_, ok := a.lookup(p)
	return ok, nil
}

func (a *Adapter) Write(p string, contents []byte, config storage.Config) error {
	visibility := config.Visibility(storage.OptionVisibility)
	if visibility != "" && !visibility.Valid() {
		return storage.Fail(storage.OpWrite, p, "", storage.ErrInvalidVisibility)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := clean(p)
	f, ok := a.files[key]
	if !ok {
		f = &file{visibility: a.fallback}
		a.files[key] = f
	}
	f.contents = bytes.Clone(contents)
	f.lastModified = a.now().Unix()
	if visibility != "" {
		f.visibility = visibility
	}
	return nil
}

func (a *Adapter) WriteStream(p string, contents io.Reader, config storage.Config) error {
	data, err := io.ReadAll(contents)
	if err != nil {
		return storage.Fail(storage.OpWrite, p, "reading the stream failed", err)
	}
	return a.Write(p, data, config)
}

func (a *Adapter) Read(p string) ([]byte, error) {
	f, ok := a.lookup(p)
	if !ok {
		return nil, storage.Fail(storage.OpRead, p, "", errNotFound)
	}
	return bytes.Clone(f.contents), nil
}

func (a *Adapter) ReadStream(p string) (io.ReadCloser, error) {
	contents, err := a.Read(p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(contents)), nil
}

func (a *Adapter) Delete(p string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, clean(p))
	return nil
}

// DeleteDirectory drops every entry under p.
func (a *Adapter) DeleteDirectory(p string) error {
	prefix := clean(p) + "/"
	if prefix == "/" {
		prefix = ""
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for key := range a.files {
		if strings.HasPrefix(key, prefix) {
			delete(a.files, key)
		}
	}
	return nil
}

// CreateDirectory stores a placeholder entry carrying the directory visibility.
func (a *Adapter) CreateDirectory(p string, config storage.Config) error {
	visibility := config.Visibility(storage.OptionDirectoryVisibility)
	if visibility == "" {
		visibility = config.Visibility(storage.OptionVisibility)
	}
	if visibility != "" && !visibility.Valid() {
		return storage.Fail(storage.OpCreateDirectory, p, "", storage.ErrInvalidVisibility)
	}

	config = storage.NewConfig(map[string]any{storage.OptionVisibility: visibility})
	if err := a.Write(path.Join(clean(p), placeholder), nil, config); err != nil {
		return storage.Fail(storage.OpCreateDirectory, p, "", err)
	}
	return nil
}

func (a *Adapter) SetVisibility(p string, visibility storage.Visibility) error {
	if !visibility.Valid() {
		return storage.Fail(storage.OpSetVisibility, p, "", storage.ErrInvalidVisibility)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.files[clean(p)]
	if !ok {
		return storage.Fail(storage.OpSetVisibility, p, "", errNotFound)
	}
	f.visibility = visibility
	return nil
}

func (a *Adapter) Visibility(p string) (*storage.FileAttributes, error) {
	f, ok := a.lookup(p)
	if !ok {
		return nil, storage.FailMetadata(p, storage.MetadataVisibility, "", errNotFound)
	}
	return storage.NewFileAttributes(p, storage.WithVisibility(f.visibility)), nil
}

func (a *Adapter) MimeType(p string) (*storage.FileAttributes, error) {
	f, ok := a.lookup(p)
	if !ok {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "", errNotFound)
	}
	mimeType := a.detector.Detect(p, f.contents)
	if mimeType == "" {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "unknown mime type", nil)
	}
	return storage.NewFileAttributes(p, storage.WithMimeType(mimeType)), nil
}

func (a *Adapter) LastModified(p string) (*storage.FileAttributes, error) {
	f, ok := a.lookup(p)
	if !ok {
		return nil, storage.FailMetadata(p, storage.MetadataLastModified, "", errNotFound)
	}
	return storage.NewFileAttributes(p, storage.WithLastModified(f.lastModified)), nil
}

func (a *Adapter) FileSize(p string) (*storage.FileAttributes, error) {
	f, ok := a.lookup(p)
	if !ok {
		return nil, storage.FailMetadata(p, storage.MetadataFileSize, "", errNotFound)
	}
	return storage.NewFileAttributes(p, storage.WithFileSize(int64(len(f.contents)))), nil
}

// ListContents derives directories from the file keys. The entries are
// snapshotted when iteration starts.
func (a *Adapter) ListContents(p string, deep bool) storage.Listing {
	return func(yield func(storage.StorageAttributes, error) bool) {
		for _, item := range a.snapshot(clean(p), deep) {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (a *Adapter) snapshot(prefix string, deep bool) []storage.StorageAttributes {
	if prefix != "" {
		prefix += "/"
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.files))
	for key := range a.files {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var items []storage.StorageAttributes
	listed := make(map[string]bool)
	for _, key := range keys {
		sub := key[len(prefix):]

		if dirname := path.Dir(sub); dirname != "." {
			dirPath := ""
			for i, part := range strings.Split(dirname, "/") {
				if !deep && i >= 1 {
					break
				}
				dirPath = path.Join(dirPath, part)
				if listed[dirPath] {
					continue
				}
				listed[dirPath] = true
				items = append(items, a.directory(prefix+dirPath))
			}
		}

		if path.Base(key) == placeholder {
			continue
		}
		if deep || !strings.Contains(sub, "/") {
			f := a.files[key]
			items = append(items, storage.NewFileAttributes(key,
				storage.WithFileSize(int64(len(f.contents))),
				storage.WithLastModified(f.lastModified),
				storage.WithVisibility(f.visibility),
			))
		}
	}
	return items
}

// directory must be called with the lock held.
func (a *Adapter) directory(p string) *storage.DirectoryAttributes {
	var visibility storage.Visibility
	if f, ok := a.files[path.Join(p, placeholder)]; ok {
		visibility = f.visibility
	}
	return storage.NewDirectoryAttributes(p, visibility)
}

// Move refuses to overwrite an existing destination.
func (a *Adapter) Move(source, destination string, _ storage.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	src, dst := clean(source), clean(destination)
	f, ok := a.files[src]
	if !ok {
		return storage.FailTransfer(storage.OpMove, source, destination, errNotFound)
	}
	if _, exists := a.files[dst]; exists {
		return storage.FailTransfer(storage.OpMove, source, destination, errors.New("destination already exists"))
	}
	a.files[dst] = f
	delete(a.files, src)
	return nil
}

// Copy clones the source, visibility included, unless the config names one.
func (a *Adapter) Copy(source, destination string, config storage.Config) error {
	visibility := config.Visibility(storage.OptionVisibility)
	if visibility != "" && !visibility.Valid() {
		return storage.FailTransfer(storage.OpCopy, source, destination, storage.ErrInvalidVisibility)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.files[clean(source)]
	if !ok {
		return storage.FailTransfer(storage.OpCopy, source, destination, errNotFound)
	}
	clone := &file{
		contents:     bytes.Clone(f.contents),
		lastModified: a.now().Unix(),
		visibility:   f.visibility,
	}
	if visibility != "" {
		clone.visibility = visibility
	}
	a.files[clean(destination)] = clone
	return nil
}
