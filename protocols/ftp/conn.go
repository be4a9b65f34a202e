package ftp

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"net/textproto"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jlaffaye/ftp"
)

// Conn is the raw command surface the adapter drives. Paths are absolute
// backend paths. Server rejections are reported as *textproto.Error so the
// adapter can tell them apart from transport failures.
type Conn interface {
	ChangeDir(path string) error
	// RawList issues LIST with the given flags and returns the raw lines.
	RawList(options, path string) ([]string, error)
	Retrieve(path string, w io.Writer, mode TransferMode) error
	Store(path string, r io.Reader, mode TransferMode) error
	Delete(path string) error
	RemoveDir(path string) error
	MakeDir(path string) error
	Rename(from, to string) error
	Chmod(mode fs.FileMode, path string) error
	Size(path string) (int64, error)
	ModTime(path string) (time.Time, error)
	// Raw sends a single control command and returns the reply unchecked.
	Raw(command string) (code int, lines []string, err error)
	Close() error
}

const mdtmLayout = "20060102150405"

// serverConn implements Conn on top of a jlaffaye session. Commands the
// library has no method for go through the tapped control connection.
type serverConn struct {
	server  *ftp.ServerConn
	tap     *tap
	current TransferMode
}

var _ Conn = (*serverConn)(nil)

func (c *serverConn) ChangeDir(path string) error {
	return c.server.ChangeDir(path)
}

func (c *serverConn) RawList(options, path string) ([]string, error) {
	var buf bytes.Buffer
	c.tap.capture = &buf
	defer func() { c.tap.capture = nil }()

	if _, err := c.server.List(strings.TrimSpace(options + " " + path)); err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (c *serverConn) Retrieve(path string, w io.Writer, mode TransferMode) error {
	if err := c.setTransferMode(mode); err != nil {
		return err
	}

	resp, err := c.server.Retr(path)
	if err != nil {
		return err
	}

	var errs *multierror.Error
	if _, err := io.Copy(w, resp); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := resp.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func (c *serverConn) Store(path string, r io.Reader, mode TransferMode) error {
	if err := c.setTransferMode(mode); err != nil {
		return err
	}
	return c.server.Stor(path, r)
}

func (c *serverConn) Delete(path string) error {
	return c.server.Delete(path)
}

func (c *serverConn) RemoveDir(path string) error {
	return c.server.RemoveDir(path)
}

func (c *serverConn) MakeDir(path string) error {
	return c.server.MakeDir(path)
}

func (c *serverConn) Rename(from, to string) error {
	return c.server.Rename(from, to)
}

func (c *serverConn) Chmod(mode fs.FileMode, path string) error {
	return c.expect(2, fmt.Sprintf("SITE CHMOD %o %s", mode.Perm(), path))
}

func (c *serverConn) Size(path string) (int64, error) {
	return c.server.FileSize(path)
}

func (c *serverConn) ModTime(path string) (time.Time, error) {
	if c.server.IsGetTimeSupported() {
		return c.server.GetTime(path)
	}

	// Servers that do not advertise MDTM in FEAT frequently implement it anyway.
	code, lines, err := c.Raw("MDTM " + path)
	if err != nil {
		return time.Time{}, err
	}
	msg := strings.Join(lines, " ")
	if code != ftp.StatusFile {
		return time.Time{}, &textproto.Error{Code: code, Msg: msg}
	}
	stamp, _, _ := strings.Cut(strings.TrimSpace(msg), ".")
	return time.ParseInLocation(mdtmLayout, stamp, time.UTC)
}

func (c *serverConn) Raw(command string) (int, []string, error) {
	code, msg, err := c.tap.control.exchange(command)
	if err != nil {
		return 0, nil, err
	}
	return code, strings.Split(msg, "\n"), nil
}

func (c *serverConn) Close() error {
	return c.server.Quit()
}

// expect sends command and requires a reply in the given class (2 for 2xx).
func (c *serverConn) expect(class int, command string) error {
	code, msg, err := c.tap.control.exchange(command)
	if err != nil {
		return err
	}
	if code/100 != class {
		return &textproto.Error{Code: code, Msg: msg}
	}
	return nil
}

func (c *serverConn) setTransferMode(mode TransferMode) error {
	if mode == "" || mode == c.current {
		return nil
	}

	transferType := ftp.TransferTypeBinary
	if mode == TransferASCII {
		transferType = ftp.TransferTypeASCII
	}
	if err := c.server.Type(transferType); err != nil {
		return err
	}
	c.current = mode
	return nil
}
