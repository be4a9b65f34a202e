// Package ftp implements storage.Adapter for FTP servers.
package ftp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/textproto"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"storagehx/storage"
	"storagehx/storage/unixvisibility"
)

// Adapter holds at most one session and is not safe for concurrent use.
type Adapter struct {
	options   ConnectionOptions
	provider  ConnectionProvider
	checker   ConnectivityChecker
	converter unixvisibility.Converter
	detector  storage.MimeTypeDetector
	prefixer  storage.PathPrefixer
	parser    *ListingParser
	logger    *zap.Logger

	conn       Conn
	isPureFtpd *bool
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

// NewAdapter validates options and returns an adapter that connects lazily,
// on the first operation.
func NewAdapter(options ConnectionOptions, opts ...Option) (*Adapter, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ftp options: %w", err)
	}

	a := &Adapter{
		options:   options,
		provider:  DialProvider{},
		checker:   NoopChecker{},
		converter: unixvisibility.NewPortableConverter(),
		detector:  storage.DefaultMimeTypeDetector{},
		prefixer:  storage.NewPathPrefixer(options.Root, "/"),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.parser = &ListingParser{
		Converter:  a.converter,
		Prefixer:   a.prefixer,
		SystemType: options.SystemType,
		Timestamps: options.TimestampsOnUnixListings,
	}
	a.logger = a.logger.With(zap.String("backend", backend), zap.String("host", options.Host))

	return a, nil
}

// Ping establishes or revalidates the session.
func (a *Adapter) Ping() error {
	_, err := a.connection()
	return err
}

func (a *Adapter) Close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// connection returns a validated session positioned at the root. A stale
// session is replaced once; a second failure is reported to the caller.
func (a *Adapter) connection() (Conn, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if a.conn == nil {
			conn, err := a.provider.CreateConnection(a.options)
			if err != nil {
				var connErr *storage.ConnectionError
				if !errors.As(err, &connErr) {
					err = connectionError(a.options, ReasonConnect, err)
				}
				return nil, err
			}
			a.logger.Debug("connection established", zap.Int("port", a.options.Port))
			a.conn = conn
		}

		if a.checker.IsConnected(a.conn) {
			_ = a.conn.ChangeDir(a.options.Root)
			return a.conn, nil
		}

		a.logger.Debug("connection went stale, reconnecting", zap.Int("attempt", attempt+1))
		_ = a.conn.Close()
		a.conn = nil
	}

	return nil, connectionError(a.options, ReasonStale, nil)
}

func (a *Adapter) isPureFtpdServer(conn Conn) bool {
	if a.isPureFtpd != nil {
		return *a.isPureFtpd
	}

	_, lines, err := conn.Raw("HELP")
	if err != nil {
		return false
	}
	pure := strings.Contains(strings.ToLower(strings.Join(lines, " ")), "pure-ftpd")
	a.isPureFtpd = &pure
	a.logger.Debug("probed server type", zap.Bool("pure_ftpd", pure))
	return pure
}

// rawList lists location. A listing the server refuses reads as empty.
func (a *Adapter) rawList(options, location string) ([]string, error) {
	location = strings.TrimRight(location, "/") + "/"

	conn, err := a.connection()
	if err != nil {
		return nil, err
	}
	if a.isPureFtpdServer(conn) {
		location = strings.ReplaceAll(location, " ", `\ `)
	}

	lines, err := conn.RawList(options, location)
	var reply *textproto.Error
	if errors.As(err, &reply) {
		a.logger.Debug("listing refused", zap.String("location", location), zap.Int("code", reply.Code))
		return nil, nil
	}
	return lines, err
}

func (a *Adapter) FileExists(p string) (bool, error) {
	conn, err := a.connection()
	if err != nil {
		return false, err
	}
	_, err = conn.Size(a.prefixer.PrefixPath(p))
	return err == nil, nil
}

func (a *Adapter) Write(p string, contents []byte, config storage.Config) error {
	return a.WriteStream(p, bytes.NewReader(contents), config)
}

func (a *Adapter) WriteStream(p string, contents io.Reader, config storage.Config) error {
	if err := a.ensureParentDirectoryExists(p, config.Visibility(storage.OptionDirectoryVisibility)); err != nil {
		return storage.Fail(storage.OpWrite, p, "creating parent directory failed", err)
	}

	conn, err := a.connection()
	if err != nil {
		return err
	}
	if err := conn.Store(a.prefixer.PrefixPath(p), contents, a.options.TransferMode); err != nil {
		return storage.Fail(storage.OpWrite, p, "writing the file failed", err)
	}

	visibility := config.Visibility(storage.OptionVisibility)
	if visibility == "" {
		return nil
	}
	if err := a.SetVisibility(p, visibility); err != nil {
		return storage.Fail(storage.OpWrite, p, "setting visibility failed", err)
	}
	return nil
}

func (a *Adapter) Read(p string) ([]byte, error) {
	conn, err := a.connection()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := conn.Retrieve(a.prefixer.PrefixPath(p), &buf, a.options.TransferMode); err != nil {
		return nil, storage.Fail(storage.OpRead, p, "", err)
	}
	return buf.Bytes(), nil
}

// ReadStream buffers the whole file: the session cannot serve other commands
// while a data channel is open.
func (a *Adapter) ReadStream(p string) (io.ReadCloser, error) {
	contents, err := a.Read(p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(contents)), nil
}

func (a *Adapter) Delete(p string) error {
	conn, err := a.connection()
	if err != nil {
		return err
	}
	return a.deleteFile(conn, p)
}

// deleteFile treats a failed DELE as success when the file is gone anyway.
func (a *Adapter) deleteFile(conn Conn, p string) error {
	location := a.prefixer.PrefixPath(p)
	err := conn.Delete(location)
	if err == nil {
		return nil
	}
	if _, sizeErr := conn.Size(location); sizeErr == nil {
		return storage.Fail(storage.OpDelete, p, "the file still exists", err)
	}
	return nil
}

// DeleteDirectory removes every file of the subtree first, then the
// directories deepest first.
func (a *Adapter) DeleteDirectory(p string) error {
	p = strings.Trim(p, "/")
	directories := []string{p}

	for item, err := range a.ListContents(p, true) {
		if err != nil {
			return storage.Fail(storage.OpDeleteDirectory, p, "unable to list contents", err)
		}
		if item.IsDir() {
			directories = append(directories, item.Path())
			continue
		}

		conn, err := a.connection()
		if err != nil {
			return err
		}
		if err := a.deleteFile(conn, item.Path()); err != nil {
			return storage.Fail(storage.OpDeleteDirectory, p, "unable to delete child", err)
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(directories)))

	conn, err := a.connection()
	if err != nil {
		return err
	}
	for _, directory := range directories {
		if err := conn.RemoveDir(a.prefixer.PrefixPath(directory)); err != nil {
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

// ensureDirectoryExists walks dirname from the root, creating each missing
// segment and applying visibility to the segments it created.
func (a *Adapter) ensureDirectoryExists(dirname string, visibility storage.Visibility) error {
	dirname = strings.Trim(dirname, "/")
	if dirname == "" {
		return nil
	}

	var mode fs.FileMode
	if visibility != "" {
		if !visibility.Valid() {
			return storage.Fail(storage.OpCreateDirectory, dirname, "", fmt.Errorf("%w: %q", storage.ErrInvalidVisibility, visibility))
		}
		mode = a.converter.ForDirectory(visibility)
	}

	conn, err := a.connection()
	if err != nil {
		return err
	}

	dirPath := ""
	for _, part := range strings.Split(dirname, "/") {
		if dirPath == "" {
			dirPath = part
		} else {
			dirPath += "/" + part
		}
		location := a.prefixer.PrefixPath(dirPath)

		if conn.ChangeDir(location) == nil {
			continue
		}
		if err := conn.MakeDir(location); err != nil {
			return storage.Fail(storage.OpCreateDirectory, dirPath, "unable to create the directory", err)
		}
		if visibility == "" {
			continue
		}
		if err := conn.Chmod(mode, location); err != nil {
			return storage.Fail(storage.OpCreateDirectory, dirPath, "unable to chmod the directory", err)
		}
	}
	return nil
}

func (a *Adapter) SetVisibility(p string, visibility storage.Visibility) error {
	if !visibility.Valid() {
		return storage.Fail(storage.OpSetVisibility, p, "", fmt.Errorf("%w: %q", storage.ErrInvalidVisibility, visibility))
	}

	conn, err := a.connection()
	if err != nil {
		return err
	}
	if err := conn.Chmod(a.converter.ForFile(visibility), a.prefixer.PrefixPath(p)); err != nil {
		return storage.Fail(storage.OpSetVisibility, p, "", err)
	}
	return nil
}

// Visibility is only exposed through listing permission bits, so the parent
// directory is listed and searched for p.
func (a *Adapter) Visibility(p string) (*storage.FileAttributes, error) {
	return a.fetchFileMetadata(p, storage.MetadataVisibility)
}

func (a *Adapter) fetchFileMetadata(p, metadata string) (*storage.FileAttributes, error) {
	p = strings.Trim(p, "/")
	dirname := path.Dir(p)
	if dirname == "." {
		dirname = ""
	}

	var found storage.StorageAttributes
	for item, err := range a.ListContents(dirname, false) {
		if err != nil {
			return nil, storage.FailMetadata(p, metadata, "", err)
		}
		if item.Path() == p {
			found = item
			break
		}
	}

	switch item := found.(type) {
	case *storage.FileAttributes:
		return item, nil
	case *storage.DirectoryAttributes:
		return nil, storage.FailMetadata(p, metadata, "expected file, directory found", nil)
	default:
		return nil, storage.FailMetadata(p, metadata, "expected file, nothing found", nil)
	}
}

func (a *Adapter) MimeType(p string) (*storage.FileAttributes, error) {
	contents, err := a.Read(p)
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "", err)
	}
	mimeType := a.detector.Detect(p, contents)
	if mimeType == "" {
		return nil, storage.FailMetadata(p, storage.MetadataMimeType, "unknown mime type", nil)
	}
	return storage.NewFileAttributes(p, storage.WithMimeType(mimeType)), nil
}

func (a *Adapter) LastModified(p string) (*storage.FileAttributes, error) {
	conn, err := a.connection()
	if err != nil {
		return nil, err
	}
	modified, err := conn.ModTime(a.prefixer.PrefixPath(p))
	if err != nil {
		return nil, storage.FailMetadata(p, storage.MetadataLastModified, "", err)
	}
	return storage.NewFileAttributes(p, storage.WithLastModified(modified.Unix())), nil
}

func (a *Adapter) FileSize(p string) (*storage.FileAttributes, error) {
	conn, err := a.connection()
	if err != nil {
		return nil, err
	}
	size, err := conn.Size(a.prefixer.PrefixPath(p))
	if err != nil || size < 0 {
		return nil, storage.FailMetadata(p, storage.MetadataFileSize, "", err)
	}
	return storage.NewFileAttributes(p, storage.WithFileSize(size)), nil
}

// ListContents issues LIST when iteration starts. Deep listings use LIST -R
// unless the server needs manual recursion.
func (a *Adapter) ListContents(p string, deep bool) storage.Listing {
	p = strings.Trim(p, "/")
	if p != "" {
		p += "/"
	}

	if deep && a.options.RecurseManually {
		return a.listRecursively(p)
	}

	return func(yield func(storage.StorageAttributes, error) bool) {
		options := "-aln"
		if deep {
			options = "-alnR"
		}
		lines, err := a.rawList(options, a.prefixer.PrefixPath(p))
		if err != nil {
			yield(nil, err)
			return
		}
		for item, err := range a.parser.Parse(lines, p) {
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

// listRecursively lists one directory per step and walks the tree depth
// first, yielding each directory before its children.
func (a *Adapter) listRecursively(directory string) storage.Listing {
	return func(yield func(storage.StorageAttributes, error) bool) {
		type frame struct {
			items []storage.StorageAttributes
			next  int
		}
		var stack []*frame

		push := func(dir string) error {
			lines, err := a.rawList("-aln", a.prefixer.PrefixPath(dir))
			if err != nil {
				return err
			}
			items, err := storage.Collect(a.parser.Parse(lines, dir))
			if err != nil {
				return err
			}
			stack = append(stack, &frame{items: items})
			return nil
		}

		if err := push(directory); err != nil {
			yield(nil, err)
			return
		}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next == len(top.items) {
				stack = stack[:len(stack)-1]
				continue
			}
			item := top.items[top.next]
			top.next++

			if !yield(item, nil) {
				return
			}
			if !item.IsDir() {
				continue
			}
			if err := push(item.Path()); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (a *Adapter) Move(source, destination string, config storage.Config) error {
	if err := a.ensureParentDirectoryExists(destination, config.Visibility(storage.OptionDirectoryVisibility)); err != nil {
		return storage.FailTransfer(storage.OpMove, source, destination, err)
	}

	conn, err := a.connection()
	if err != nil {
		return err
	}
	if err := conn.Rename(a.prefixer.PrefixPath(source), a.prefixer.PrefixPath(destination)); err != nil {
		return storage.FailTransfer(storage.OpMove, source, destination, err)
	}
	return nil
}

// Copy is read followed by write and is not atomic.
func (a *Adapter) Copy(source, destination string, config storage.Config) error {
	stream, err := a.ReadStream(source)
	if err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}
	defer stream.Close()

	attributes, err := a.Visibility(source)
	if err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}

	writeConfig := config.Extend(map[string]any{storage.OptionVisibility: attributes.Visibility()})
	if err := a.WriteStream(destination, stream, writeConfig); err != nil {
		return storage.FailTransfer(storage.OpCopy, source, destination, err)
	}
	return nil
}
