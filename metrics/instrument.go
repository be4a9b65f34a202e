package metrics

import (
	"io"
	"time"

	"storagehx/storage"
)

// Adapter records every call of the wrapped adapter under the disk label.
type Adapter struct {
	disk  string
	inner storage.Adapter
}

var (
	_ storage.Adapter = (*Adapter)(nil)
	_ storage.Pinger  = (*Adapter)(nil)
)

func Instrument(disk string, inner storage.Adapter) *Adapter {
	return &Adapter{disk: disk, inner: inner}
}

// Unwrap returns the instrumented adapter.
func (a *Adapter) Unwrap() storage.Adapter {
	return a.inner
}

func (a *Adapter) observe(operation string, start time.Time, err error) {
	RecordOperation(a.disk, operation, err, time.Since(start))
}

// Ping forwards to the inner adapter when it holds a session and succeeds
// otherwise.
func (a *Adapter) Ping() (err error) {
	pinger, ok := a.inner.(storage.Pinger)
	if !ok {
		return nil
	}
	start := time.Now()
	defer func() { a.observe("ping", start, err) }()
	return pinger.Ping()
}

func (a *Adapter) FileExists(path string) (bool, error) {
	start := time.Now()
	exists, err := a.inner.FileExists(path)
	a.observe("file_exists", start, err)
	return exists, err
}

func (a *Adapter) Write(path string, contents []byte, config storage.Config) error {
	start := time.Now()
	err := a.inner.Write(path, contents, config)
	a.observe(string(storage.OpWrite), start, err)
	if err == nil {
		bytesWritten.WithLabelValues(a.disk).Add(float64(len(contents)))
	}
	return err
}

func (a *Adapter) WriteStream(path string, contents io.Reader, config storage.Config) error {
	start := time.Now()
	err := a.inner.WriteStream(path, countingReader{Reader: contents, counter: bytesWritten.WithLabelValues(a.disk)}, config)
	a.observe("write_stream", start, err)
	return err
}

func (a *Adapter) Read(path string) ([]byte, error) {
	start := time.Now()
	contents, err := a.inner.Read(path)
	a.observe(string(storage.OpRead), start, err)
	if err == nil {
		bytesRead.WithLabelValues(a.disk).Add(float64(len(contents)))
	}
	return contents, err
}

func (a *Adapter) ReadStream(path string) (io.ReadCloser, error) {
	start := time.Now()
	stream, err := a.inner.ReadStream(path)
	a.observe("read_stream", start, err)
	if err != nil {
		return nil, err
	}
	return countingReadCloser{
		countingReader: countingReader{Reader: stream, counter: bytesRead.WithLabelValues(a.disk)},
		Closer:         stream,
	}, nil
}

func (a *Adapter) Delete(path string) error {
	start := time.Now()
	err := a.inner.Delete(path)
	a.observe(string(storage.OpDelete), start, err)
	return err
}

func (a *Adapter) DeleteDirectory(path string) error {
	start := time.Now()
	err := a.inner.DeleteDirectory(path)
	a.observe(string(storage.OpDeleteDirectory), start, err)
	return err
}

func (a *Adapter) CreateDirectory(path string, config storage.Config) error {
	start := time.Now()
	err := a.inner.CreateDirectory(path, config)
	a.observe(string(storage.OpCreateDirectory), start, err)
	return err
}

func (a *Adapter) SetVisibility(path string, visibility storage.Visibility) error {
	start := time.Now()
	err := a.inner.SetVisibility(path, visibility)
	a.observe(string(storage.OpSetVisibility), start, err)
	return err
}

func (a *Adapter) metadata(name string, fn func(string) (*storage.FileAttributes, error), path string) (*storage.FileAttributes, error) {
	start := time.Now()
	attributes, err := fn(path)
	a.observe(name, start, err)
	return attributes, err
}

func (a *Adapter) Visibility(path string) (*storage.FileAttributes, error) {
	return a.metadata(storage.MetadataVisibility, a.inner.Visibility, path)
}

func (a *Adapter) MimeType(path string) (*storage.FileAttributes, error) {
	return a.metadata(storage.MetadataMimeType, a.inner.MimeType, path)
}

func (a *Adapter) LastModified(path string) (*storage.FileAttributes, error) {
	return a.metadata(storage.MetadataLastModified, a.inner.LastModified, path)
}

func (a *Adapter) FileSize(path string) (*storage.FileAttributes, error) {
	return a.metadata(storage.MetadataFileSize, a.inner.FileSize, path)
}

// ListContents is observed when iteration ends.
func (a *Adapter) ListContents(path string, deep bool) storage.Listing {
	return func(yield func(storage.StorageAttributes, error) bool) {
		start := time.Now()
		var failure error
		defer func() { a.observe("list_contents", start, failure) }()

		for item, err := range a.inner.ListContents(path, deep) {
			if err != nil {
				failure = err
			}
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

func (a *Adapter) Move(source, destination string, config storage.Config) error {
	start := time.Now()
	err := a.inner.Move(source, destination, config)
	a.observe(string(storage.OpMove), start, err)
	return err
}

func (a *Adapter) Copy(source, destination string, config storage.Config) error {
	start := time.Now()
	err := a.inner.Copy(source, destination, config)
	a.observe(string(storage.OpCopy), start, err)
	return err
}

func (a *Adapter) Close() error {
	return a.inner.Close()
}
