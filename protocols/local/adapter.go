// Package local implements storage.Adapter on top of the local filesystem.
package local

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"storagehx/storage"
	"storagehx/storage/unixvisibility"
)

// sniffLength is how much of a file MimeType reads.
const sniffLength = 3072

// ErrSymbolicLink is matched by *SymbolicLinkError.
var ErrSymbolicLink = errors.New("unsupported symbolic link")

// SymbolicLinkError is yielded by a listing that meets a link while links
// are not skipped.
type SymbolicLinkError struct {
	Path string
}

func (e *SymbolicLinkError) Error() string {
	return fmt.Sprintf("unsupported symbolic link encountered at location %s", e.Path)
}

func (e *SymbolicLinkError) Is(target error) bool {
	return target == ErrSymbolicLink
}

type Adapter struct {
	root      string
	prefixer  storage.PathPrefixer
	converter unixvisibility.Converter
	detector  storage.MimeTypeDetector
	logger    *zap.Logger
	skipLinks bool
}

var _ storage.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

func WithVisibilityConverter(converter unixvisibility.Converter) Option {
	return func(a *Adapter) {
		a.converter = converter
	}
}

func WithMimeTypeDetector(detector storage.MimeTypeDetector) Option {
	return func(a *Adapter) {
		a.detector = detector
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithSkipLinks makes listings pass over symbolic links silently.
func WithSkipLinks() Option {
	return func(a *Adapter) {
		a.skipLinks = true
	}
}

// NewAdapter roots an adapter at root, creating the directory when missing.
func NewAdapter(root string, opts ...Option) (*Adapter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}

	a := &Adapter{
		root:      abs,
		converter: unixvisibility.NewPortableConverter(),
		detector:  storage.DefaultMimeTypeDetector{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.prefixer = storage.NewPathPrefixer(abs, string(os.PathSeparator))
	a.logger = a.logger.With(zap.String("backend", "local"), zap.String("root", abs))

	if err := os.MkdirAll(abs, a.converter.DefaultForDirectories().Perm()); err != nil {
		return nil, fmt.Errorf("create root %q: %w", abs, err)
	}
	return a, nil
}

func (a *Adapter) Close() error {
	return nil
}

func (a *Adapter) location(p string) string {
	return a.prefixer.PrefixPath(filepath.FromSlash(strings.Trim(p, "/")))
}

func (a *Adapter) logical(location string) string {
	return filepath.ToSlash(a.prefixer.StripPrefix(location))
}

func (a *Adapter) FileExists(p string) (bool, error) {
	info, err := os.Stat(a.location(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (a *Adapter) Write(p string, contents []byte, config storage.Config) error {
	return a.WriteStream(p, bytes.NewReader(contents), config)
}

func (a *Adapter) WriteStream(p string, contents io.Reader, config storage.Config) error {
	visibility := config.Visibility(storage.OptionVisibility)
	if visibility != "" && !visibility.Valid() {
		return storage.Fail(storage.OpWrite, p, "", fmt.Errorf("%w: %q", storage.ErrInvalidVisibility, visibility))
	}

	if err := a.ensureParentDirectoryExists(p, config.Visibility(storage.OptionDirectoryVisibility)); err != nil {
		return storage.Fail(storage.OpWrite, p, "creating parent directory failed", err)
	}

	location := a.location(p)
	f, err := os.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, a.converter.ForFile(storage.Public))
	if err != nil {
		return storage.Fail(storage.OpWrite, p, "writing the file failed", err)
	}
	if _, err := io.Copy(f, contents); err != nil {
		_ = f.Close()
		return storage.Fail(storage.OpWrite, p, "writing the file failed", err)
	}
	if err := f.Close(); err != nil {
		return storage.Fail(storage.OpWrite, p, "writing the file failed", err)
	}

	if visibility == "" {
		return nil
	}
	if err := os.Chmod(location, a.converter.ForFile(visibility)); err != nil {
		return storage.Fail(storage.OpWrite, p, "setting visibility failed", err)
	}
	return nil
}

func (a *Adapter) Read(p string) ([]byte, error) {
	contents, err := os.ReadFile(a.location(p))
	if err != nil {
		return nil, storage.Fail(storage.OpRead, p, "", err)
	}
	return contents, nil
}

func (a *Adapter) ReadStream(p string) (io.ReadCloser, error) {
	f, err := os.Open(a.location(p))
	if err != nil {
		return nil, storage.Fail(storage.OpRead, p, "", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, storage.Fail(storage.OpRead, p, "", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, storage.Fail(storage.OpRead, p, "expected file, directory found", nil)
	}
	return f, nil
}

// Delete succeeds when the file is already gone.
func (a *Adapter) Delete(p string) error {
	err := os.Remove(a.location(p))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return storage.Fail(storage.OpDelete, p, "", err)
}

// DeleteDirectory removes the subtree. Links are unlinked, never followed.
func (a *Adapter) DeleteDirectory(p string) error {
	location := a.location(p)
	info, err := os.Lstat(location)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return storage.Fail(storage.OpDeleteDirectory, p, "", err)
	}
	if !info.IsDir() {
		return storage.Fail(storage.OpDeleteDirectory, p, "not a directory", nil)
	}
	if err := os.RemoveAll(location); err != nil {
		return storage.Fail(storage.OpDeleteDirectory, p, "", err)
	}
	return nil
}

func (a *Adapter) CreateDirectory(p string, config storage.Config) error {
	visibility := config.Visibility(storage.OptionDirectoryVisibility)
	if visibility == "" {
		visibility = config.Visibility(storage.OptionVisibility)
	}
	return a.ensureDirectoryExists(p, visibility)
}

func (a *Adapter) ensureParentDirectoryExists(p string, visibility storage.Visibility) error {
	dirname := path.Dir(strings.Trim(p, "/"))
	if dirname == "." || dirname == "/" {
		return nil
	}
	return a.ensureDirectoryExists(dirname, visibility)
}

// ensureDirectoryExists creates each missing segment of dirname. Created
// segments get the requested visibility, or the converter default.
func (a *Adapter) ensureDirectoryExists(dirname string, visibility storage.Visibility) error {
	dirname = strings.Trim(dirname, "/")
	if dirname == "" {
		return nil
	}

	mode := a.converter.DefaultForDirectories()
	if visibility != "" {
		if !visibility.Valid() {
			return storage.Fail(storage.OpCreateDirectory, dirname, "", fmt.Errorf("%w: %q", storage.ErrInvalidVisibility, visibility))
		}
		mode = a.converter.ForDirectory(visibility)
	}

	dirPath := ""
	for _, part := range strings.Split(dirname, "/") {
		dirPath = path.Join(dirPath, part)
		location := a.location(dirPath)

		info, err := os.Stat(location)
		if err == nil {
			if !info.IsDir() {
				return storage.Fail(storage.OpCreateDirectory, dirPath, "a file exists at this location", nil)
			}
			continue
		}
		if err := os.Mkdir(location, mode.Perm()); err != nil && !errors.Is(err, fs.ErrExist) {
			return storage.Fail(storage.OpCreateDirectory, dirPath, "unable to create the directory", err)
		}
		// Mkdir is subject to the umask.
		if err := os.Chmod(location, mode.Perm()); err != nil {
			return storage.Fail(storage.OpCreateDirectory, dirPath, "unable to chmod the directory", err)
		}
	}
	return nil
}

func (a *Adapter) SetVisibility(p string, visibility storage.Visibility) error {
	if !visibility.Valid() {
		return storage.Fail(storage.OpSetVisibility, p, "", fmt.Errorf("%w: %q", storage.ErrInvalidVisibility, visibility))
	}

	location := a.location(p)
	info, err := os.Stat(location)
	if err != nil {
		return storage.Fail(storage.OpSetVisibility, p, "", err)
	}

	mode := a.converter.ForFile(visibility)
	if info.IsDir() {
		mode = a.converter.ForDirectory(visibility)
	}
	if err := os.Chmod(location, mode.Perm()); err != nil {
		return storage.Fail(storage.OpSetVisibility, p, "", err)
	}
	return nil
}

func (a *Adapter) Visibility(p string) (*storage.FileAttributes, error) {
	info, err := os.Stat(a.location(p))
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataVisibility, "", err)
	}

	visibility := a.converter.InverseForFile(info.Mode())
	if info.IsDir() {
		visibility = a.converter.InverseForDirectory(info.Mode())
	}
	return storage.NewFileAttributes(p, storage.WithVisibility(visibility)), nil
}

func (a *Adapter) MimeType(p string) (*storage.FileAttributes, error) {
	f, err := os.Open(a.location(p))
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "", err)
	}
	defer f.Close()

	head, err := io.ReadAll(io.LimitReader(f, sniffLength))
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "", err)
	}
	mimeType := a.detector.Detect(p, head)
	if mimeType == "" {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "unknown mime type", nil)
	}
	return storage.NewFileAttributes(p, storage.WithMimeType(mimeType)), nil
}

func (a *Adapter) LastModified(p string) (*storage.FileAttributes, error) {
	info, err := os.Stat(a.location(p))
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataLastModified, "", err)
	}
	return storage.NewFileAttributes(p, storage.WithLastModified(info.ModTime().Unix())), nil
}

func (a *Adapter) FileSize(p string) (*storage.FileAttributes, error) {
	info, err := os.Stat(a.location(p))
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataFileSize, "", err)
	}
	if !info.Mode().IsRegular() {
		return nil, storage.FailMetadata(p, storage.MetadataFileSize, "not a regular file", nil)
	}
	return storage.NewFileAttributes(p, storage.WithFileSize(info.Size())), nil
}

// ListContents reads the directory when iteration starts. A missing
// directory lists as empty.
func (a *Adapter) ListContents(p string, deep bool) storage.Listing {
	return func(yield func(storage.StorageAttributes, error) bool) {
		location := a.location(p)

		if !deep {
			entries, err := os.ReadDir(location)
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			for _, entry := range entries {
				item, err := a.attributes(filepath.Join(location, entry.Name()), entry)
				if errors.Is(err, errSkip) {
					continue
				}
				if !yield(item, err) || err != nil {
					return
				}
			}
			return
		}

		stopped := false
		err := filepath.WalkDir(location, func(current string, entry fs.DirEntry, err error) error {
			if current == location {
				if errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipAll
				}
				return err
			}
			if err != nil {
				return err
			}

			item, err := a.attributes(current, entry)
			if errors.Is(err, errSkip) {
				return nil
			}
			if !yield(item, err) || err != nil {
				stopped = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

var errSkip = errors.New("skip entry")

func (a *Adapter) attributes(location string, entry fs.DirEntry) (storage.StorageAttributes, error) {
	logical := a.logical(location)

	if entry.Type()&fs.ModeSymlink != 0 {
		if a.skipLinks {
			a.logger.Debug("skipping symbolic link", zap.String("path", logical))
			return nil, errSkip
		}
		return nil, &SymbolicLinkError{Path: logical}
	}

	info, err := entry.Info()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errSkip
	}
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return storage.NewDirectoryAttributes(logical, a.converter.InverseForDirectory(info.Mode())), nil
	}
	return storage.NewFileAttributes(logical,
		storage.WithFileSize(info.Size()),
		storage.WithLastModified(info.ModTime().Unix()),
		storage.WithVisibility(a.converter.InverseForFile(info.Mode())),
	), nil
}

func (a *Adapter) Move(source, destination string, config storage.Config) error {
	if err := a.ensureParentDirectoryExists(destination, config.Visibility(storage.OptionDirectoryVisibility)); err != nil {
		return storage.FailTransfer(storage.OpMove, source, destination, err)
	}
	if err := os.Rename(a.location(source), a.location(destination)); err != nil {
		return storage.FailTransfer(storage.OpMove, source, destination, err)
	}
	return nil
}

// Copy keeps the source permissions unless the config names a visibility.
func (a *Adapter) Copy(source, destination string, config storage.Config) error {
	src, err := os.Open(a.location(source))
	if err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}
	if info.IsDir() {
		return storage.FailTransfer(storage.OpCopy, source, destination, errors.New("source is a directory"))
	}

	visibility := config.Visibility(storage.OptionVisibility)
	if visibility == "" {
		visibility = a.converter.InverseForFile(info.Mode())
	}

	writeConfig := config.Extend(map[string]any{storage.OptionVisibility: visibility})
	if err := a.WriteStream(destination, src, writeConfig); err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}
	return nil
}
