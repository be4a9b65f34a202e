// Package sftp implements storage.Adapter for SFTP servers.
package sftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"storagehx/storage"
	"storagehx/storage/unixvisibility"
)

const sniffLength = 3072

// Adapter holds at most one session. It is not safe for concurrent use.
type Adapter struct {
	options   ConnectionOptions
	provider  ConnectionProvider
	checker   ConnectivityChecker
	converter unixvisibility.Converter
	detector  storage.MimeTypeDetector
	prefixer  storage.PathPrefixer
	logger    *zap.Logger

	session *Session
}

var (
	_ storage.Adapter = (*Adapter)(nil)
	_ storage.Pinger  = (*Adapter)(nil)
)

type Option func(*Adapter)

func WithConnectionProvider(provider ConnectionProvider) Option {
	return func(a *Adapter) {
		a.provider = provider
	}
}

func WithConnectivityChecker(checker ConnectivityChecker) Option {
	return func(a *Adapter) {
		a.checker = checker
	}
}

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

func NewAdapter(options ConnectionOptions, opts ...Option) (*Adapter, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp options: %w", err)
	}

	a := &Adapter{
		options:   options,
		provider:  SSHProvider{},
		checker:   GetwdChecker{},
		converter: unixvisibility.NewPortableConverter(),
		detector:  storage.DefaultMimeTypeDetector{},
		prefixer:  storage.NewPathPrefixer(options.Root, "/"),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("backend", backend), zap.String("host", options.Host))

	return a, nil
}

func (a *Adapter) Ping() error {
	_, err := a.connection()
	return err
}

func (a *Adapter) Close() error {
	if a.session == nil {
		return nil
	}
	err := a.session.Close()
	a.session = nil
	return err
}

func (a *Adapter) connection() (*Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if a.session == nil {
			session, err := a.provider.CreateConnection(a.options)
			if err != nil {
				var connErr *storage.ConnectionError
				if !errors.As(err, &connErr) {
					err = connectionError(a.options, ReasonConnect, err)
				}
				return nil, err
			}
			a.logger.Debug("connection established", zap.Int("port", a.options.Port))
			a.session = session
		}

		if a.checker.IsConnected(a.session) {
			return a.session, nil
		}

		a.logger.Debug("connection went stale, reconnecting", zap.Int("attempt", attempt+1))
		_ = a.session.Close()
		a.session = nil
	}

	return nil, connectionError(a.options, ReasonStale, nil)
}

func (a *Adapter) location(p string) string {
	return a.prefixer.PrefixPath(strings.Trim(p, "/"))
}

func (a *Adapter) FileExists(p string) (bool, error) {
	session, err := a.connection()
	if err != nil {
		return false, err
	}
	info, err := session.Stat(a.location(p))
	if err != nil {
		return false, nil
	}
	return !info.IsDir(), nil
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

	session, err := a.connection()
	if err != nil {
		return err
	}

	location := a.location(p)
	f, err := session.OpenFile(location, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
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
	if err := session.Chmod(location, a.converter.ForFile(visibility).Perm()); err != nil {
		return storage.Fail(storage.OpWrite, p, "setting visibility failed", err)
	}
	return nil
}

func (a *Adapter) Read(p string) ([]byte, error) {
	stream, err := a.ReadStream(p)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	contents, err := io.ReadAll(stream)
	if err != nil {
		return nil, storage.Fail(storage.OpRead, p, "", err)
	}
	return contents, nil
}

// ReadStream returns the remote file handle. It stays valid while the
// adapter keeps its session.
func (a *Adapter) ReadStream(p string) (io.ReadCloser, error) {
	session, err := a.connection()
	if err != nil {
		return nil, err
	}

	f, err := session.Open(a.location(p))
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

func (a *Adapter) Delete(p string) error {
	session, err := a.connection()
	if err != nil {
		return err
	}
	err = session.Remove(a.location(p))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return storage.Fail(storage.OpDelete, p, "", err)
}

// DeleteDirectory removes the files of the subtree first, then the
// directories deepest first.
func (a *Adapter) DeleteDirectory(p string) error {
	p = strings.Trim(p, "/")

	session, err := a.connection()
	if err != nil {
		return err
	}
	if _, err := session.Stat(a.location(p)); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	directories := []string{p}
	for item, err := range a.ListContents(p, true) {
		if err != nil {
			return storage.Fail(storage.OpDeleteDirectory, p, "unable to list contents", err)
		}
		if item.IsDir() {
			directories = append(directories, item.Path())
			continue
		}
		if err := session.Remove(a.location(item.Path())); err != nil {
			return storage.Fail(storage.OpDeleteDirectory, p, "unable to delete child", err)
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(directories)))
	for _, directory := range directories {
		if err := session.RemoveDirectory(a.location(directory)); err != nil {
			return storage.Fail(storage.OpDeleteDirectory, p, "could not delete directory "+directory, err)
		}
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

// ensureDirectoryExists creates each missing segment of dirname with the
// requested visibility, or the converter default.
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

	session, err := a.connection()
	if err != nil {
		return err
	}

	dirPath := ""
	for _, part := range strings.Split(dirname, "/") {
		dirPath = path.Join(dirPath, part)
		location := a.location(dirPath)

		info, err := session.Stat(location)
		if err == nil {
			if !info.IsDir() {
				return storage.Fail(storage.OpCreateDirectory, dirPath, "a file exists at this location", nil)
			}
			continue
		}
		if err := session.Mkdir(location); err != nil {
			return storage.Fail(storage.OpCreateDirectory, dirPath, "unable to create the directory", err)
		}
		if err := session.Chmod(location, mode.Perm()); err != nil {
			return storage.Fail(storage.OpCreateDirectory, dirPath, "unable to chmod the directory", err)
		}
	}
	return nil
}

func (a *Adapter) SetVisibility(p string, visibility storage.Visibility) error {
	if !visibility.Valid() {
		return storage.Fail(storage.OpSetVisibility, p, "", fmt.Errorf("%w: %q", storage.ErrInvalidVisibility, visibility))
	}

	session, err := a.connection()
	if err != nil {
		return err
	}

	location := a.location(p)
	info, err := session.Stat(location)
	if err != nil {
		return storage.Fail(storage.OpSetVisibility, p, "", err)
	}
	mode := a.converter.ForFile(visibility)
	if info.IsDir() {
		mode = a.converter.ForDirectory(visibility)
	}
	if err := session.Chmod(location, mode.Perm()); err != nil {
		return storage.Fail(storage.OpSetVisibility, p, "", err)
	}
	return nil
}

func (a *Adapter) stat(p, metadata string) (fs.FileInfo, error) {
	session, err := a.connection()
	if err != nil {
		return nil, err
	}
	info, err := session.Stat(a.location(p))
	if err != nil {
		return nil, storage.FailMetadata(p, metadata, "", err)
	}
	return info, nil
}

func (a *Adapter) Visibility(p string) (*storage.FileAttributes, error) {
	info, err := a.stat(p, storage.MetadataVisibility)
	if err != nil {
		return nil, err
	}
	visibility := a.converter.InverseForFile(info.Mode())
	if info.IsDir() {
		visibility = a.converter.InverseForDirectory(info.Mode())
	}
	return storage.NewFileAttributes(p, storage.WithVisibility(visibility)), nil
}

func (a *Adapter) MimeType(p string) (*storage.FileAttributes, error) {
	stream, err := a.ReadStream(p)
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "", err)
	}
	defer stream.Close()

	head, err := io.ReadAll(io.LimitReader(stream, sniffLength))
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
	info, err := a.stat(p, storage.MetadataLastModified)
	if err != nil {
		return nil, err
	}
	return storage.NewFileAttributes(p, storage.WithLastModified(info.ModTime().Unix())), nil
}

func (a *Adapter) FileSize(p string) (*storage.FileAttributes, error) {
	info, err := a.stat(p, storage.MetadataFileSize)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, storage.FailMetadata(p, storage.MetadataFileSize, "expected file, directory found", nil)
	}
	return storage.NewFileAttributes(p, storage.WithFileSize(info.Size())), nil
}

// ListContents reads one directory per step when iteration starts. Deep
// listings yield each directory before its children. A missing directory
// lists as empty.
func (a *Adapter) ListContents(p string, deep bool) storage.Listing {
	return func(yield func(storage.StorageAttributes, error) bool) {
		session, err := a.connection()
		if err != nil {
			yield(nil, err)
			return
		}

		var stack [][]storage.StorageAttributes
		items, err := a.readDir(session, strings.Trim(p, "/"))
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(nil, err)
			return
		}
		stack = append(stack, items)

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if len(top) == 0 {
				stack = stack[:len(stack)-1]
				continue
			}
			item := top[0]
			stack[len(stack)-1] = top[1:]

			if !yield(item, nil) {
				return
			}
			if !deep || !item.IsDir() {
				continue
			}
			children, err := a.readDir(session, item.Path())
			if err != nil {
				yield(nil, err)
				return
			}
			stack = append(stack, children)
		}
	}
}

func (a *Adapter) readDir(session *Session, dir string) ([]storage.StorageAttributes, error) {
	infos, err := session.ReadDir(a.location(dir))
	if err != nil {
		return nil, err
	}

	items := make([]storage.StorageAttributes, 0, len(infos))
	for _, info := range infos {
		if info.Name() == "." || info.Name() == ".." {
			continue
		}
		logical := path.Join(dir, info.Name())
		if info.IsDir() {
			items = append(items, storage.NewDirectoryAttributes(logical, a.converter.InverseForDirectory(info.Mode())))
			continue
		}
		items = append(items, storage.NewFileAttributes(logical,
			storage.WithFileSize(info.Size()),
			storage.WithLastModified(info.ModTime().Unix()),
			storage.WithVisibility(a.converter.InverseForFile(info.Mode())),
		))
	}
	return items, nil
}

func (a *Adapter) Move(source, destination string, config storage.Config) error {
	if err := a.ensureParentDirectoryExists(destination, config.Visibility(storage.OptionDirectoryVisibility)); err != nil {
		return storage.FailTransfer(storage.OpMove, source, destination, err)
	}

	session, err := a.connection()
	if err != nil {
		return err
	}
	if err := session.Rename(a.location(source), a.location(destination)); err != nil {
		return storage.FailTransfer(storage.OpMove, source, destination, err)
	}
	return nil
}

// Copy streams the source through the client and keeps its visibility unless
// the config names one.
func (a *Adapter) Copy(source, destination string, config storage.Config) error {
	stream, err := a.ReadStream(source)
	if err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}
	defer stream.Close()

	writeConfig := config
	if config.Visibility(storage.OptionVisibility) == "" {
		attributes, err := a.Visibility(source)
		if err != nil {
			return storage.FailTransfer(storage.OpCopy, source, destination, err)
		}
		writeConfig = config.Extend(map[string]any{storage.OptionVisibility: attributes.Visibility()})
	}

	if err := a.WriteStream(destination, stream, writeConfig); err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}
	return nil
}
