package ftp

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"time"
)

var fakeModTime = time.Date(2020, time.March, 4, 9, 15, 0, 0, time.UTC)

type fakeEntry struct {
	dir      bool
	mode     fs.FileMode
	contents []byte
}

// fakeServer is the shared state behind every fakeConn: a tree of absolute
// paths plus a log of the commands that changed it.
type fakeServer struct {
	entries map[string]*fakeEntry

	help        string
	windows     bool
	noopFailure int
	undeletable map[string]bool
	chmodFails  bool
	connectErr  error

	connections int
	commands    []string
}

func newFakeServer(root string) *fakeServer {
	s := &fakeServer{
		entries:     map[string]*fakeEntry{"/": {dir: true, mode: 0o755}},
		help:        "214-The following commands are recognized.\n USER PASS QUIT\n214 Help OK.",
		undeletable: map[string]bool{},
	}
	s.mkdirAll(root)
	return s
}

func (s *fakeServer) mkdirAll(dir string) {
	dir = path.Clean(dir)
	if dir == "/" {
		return
	}
	s.mkdirAll(path.Dir(dir))
	if _, ok := s.entries[dir]; !ok {
		s.entries[dir] = &fakeEntry{dir: true, mode: 0o755}
	}
}

func (s *fakeServer) putFile(p string, contents string, mode fs.FileMode) {
	p = path.Clean(p)
	s.mkdirAll(path.Dir(p))
	s.entries[p] = &fakeEntry{mode: mode, contents: []byte(contents)}
}

func (s *fakeServer) exists(p string) bool {
	_, ok := s.entries[path.Clean(p)]
	return ok
}

func (s *fakeServer) log(format string, args ...any) {
	s.commands = append(s.commands, fmt.Sprintf(format, args...))
}

func (s *fakeServer) commandsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range s.commands {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeServer) children(dir string) []string {
	var names []string
	for p := range s.entries {
		if p != "/" && path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names
}

func (s *fakeServer) CreateConnection(ConnectionOptions) (Conn, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	s.connections++
	return &fakeConn{server: s, cwd: "/"}, nil
}

func rejected(code int) error {
	return &textproto.Error{Code: code, Msg: "Requested action not taken."}
}

type fakeConn struct {
	server *fakeServer
	cwd    string
	closed bool
}

func (c *fakeConn) entry(p string) (*fakeEntry, bool) {
	e, ok := c.server.entries[path.Clean(p)]
	return e, ok
}

func (c *fakeConn) ChangeDir(p string) error {
	if e, ok := c.entry(p); ok && e.dir {
		c.cwd = path.Clean(p)
		return nil
	}
	return rejected(550)
}

func (c *fakeConn) RawList(options, p string) ([]string, error) {
	c.server.log("LIST %s %s", options, p)
	dir := path.Clean(strings.ReplaceAll(p, `\ `, " "))
	if p == "./" {
		dir = c.cwd
	}
	if e, ok := c.entry(dir); !ok || !e.dir {
		return nil, rejected(550)
	}

	var lines []string
	c.listInto(&lines, dir, strings.Contains(options, "R"), true)
	return lines, nil
}

func (c *fakeConn) listInto(lines *[]string, dir string, recursive, first bool) {
	if recursive && !first {
		*lines = append(*lines, "", dir+":")
	}

	names := c.server.children(dir)
	if !c.server.windows {
		*lines = append(*lines,
			fmt.Sprintf("total %d", len(names)),
			"drwxr-xr-x   2 1000     1000         4096 Mar 04  2020 .",
			"drwxr-xr-x   3 1000     1000         4096 Mar 04  2020 ..",
		)
	}

	var subdirs []string
	for _, name := range names {
		full := path.Join(dir, name)
		e := c.server.entries[full]
		*lines = append(*lines, c.formatLine(name, e))
		if e.dir {
			subdirs = append(subdirs, full)
		}
	}

	if recursive {
		for _, sub := range subdirs {
			c.listInto(lines, sub, true, false)
		}
	}
}

func (c *fakeConn) formatLine(name string, e *fakeEntry) string {
	if c.server.windows {
		if e.dir {
			return fmt.Sprintf("03-04-20  09:15AM       <DIR>          %s", name)
		}
		return fmt.Sprintf("03-04-20  09:15AM       %14d %s", len(e.contents), name)
	}

	kind, size := "-", len(e.contents)
	if e.dir {
		kind, size = "d", 4096
	}
	return fmt.Sprintf("%s%s   1 1000     1000     %8d %s %s",
		kind, permissionString(e.mode), size, fakeModTime.Format("Jan 02  2006"), name)
}

func permissionString(mode fs.FileMode) string {
	const rwx = "rwxrwxrwx"
	out := []byte("---------")
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			out[i] = rwx[i]
		}
	}
	return string(out)
}

func (c *fakeConn) Retrieve(p string, w io.Writer, _ TransferMode) error {
	e, ok := c.entry(p)
	if !ok || e.dir {
		return rejected(550)
	}
	_, err := w.Write(e.contents)
	return err
}

func (c *fakeConn) Store(p string, r io.Reader, _ TransferMode) error {
	parent, ok := c.entry(path.Dir(p))
	if !ok || !parent.dir {
		return rejected(553)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	c.server.log("STOR %s", p)
	c.server.entries[path.Clean(p)] = &fakeEntry{mode: 0o644, contents: buf.Bytes()}
	return nil
}

func (c *fakeConn) Delete(p string) error {
	c.server.log("DELE %s", p)
	e, ok := c.entry(p)
	if !ok || e.dir || c.server.undeletable[path.Clean(p)] {
		return rejected(550)
	}
	delete(c.server.entries, path.Clean(p))
	return nil
}

func (c *fakeConn) RemoveDir(p string) error {
	c.server.log("RMD %s", p)
	p = path.Clean(p)
	e, ok := c.entry(p)
	if !ok || !e.dir || len(c.server.children(p)) > 0 {
		return rejected(550)
	}
	delete(c.server.entries, p)
	return nil
}

func (c *fakeConn) MakeDir(p string) error {
	c.server.log("MKD %s", p)
	p = path.Clean(p)
	parent, ok := c.entry(path.Dir(p))
	if !ok || !parent.dir || c.server.exists(p) {
		return rejected(550)
	}
	c.server.entries[p] = &fakeEntry{dir: true, mode: 0o755}
	return nil
}

func (c *fakeConn) Rename(from, to string) error {
	from, to = path.Clean(from), path.Clean(to)
	if !c.server.exists(from) || !c.server.exists(path.Dir(to)) {
		return rejected(550)
	}
	c.server.log("RNFR %s RNTO %s", from, to)
	moved := map[string]*fakeEntry{}
	for p, e := range c.server.entries {
		if p == from || strings.HasPrefix(p, from+"/") {
			moved[to+strings.TrimPrefix(p, from)] = e
			delete(c.server.entries, p)
		}
	}
	for p, e := range moved {
		c.server.entries[p] = e
	}
	return nil
}

func (c *fakeConn) Chmod(mode fs.FileMode, p string) error {
	c.server.log("SITE CHMOD %o %s", mode.Perm(), p)
	e, ok := c.entry(p)
	if !ok || c.server.chmodFails {
		return rejected(550)
	}
	e.mode = mode.Perm()
	return nil
}

func (c *fakeConn) Size(p string) (int64, error) {
	e, ok := c.entry(p)
	if !ok || e.dir {
		return 0, rejected(550)
	}
	return int64(len(e.contents)), nil
}

func (c *fakeConn) ModTime(p string) (time.Time, error) {
	e, ok := c.entry(p)
	if !ok || e.dir {
		return time.Time{}, rejected(550)
	}
	return fakeModTime, nil
}

func (c *fakeConn) Raw(command string) (int, []string, error) {
	if c.closed {
		return 0, nil, io.ErrClosedPipe
	}
	c.server.log("%s", command)

	switch command {
	case "NOOP":
		if c.server.noopFailure > 0 {
			c.server.noopFailure--
			return 421, []string{"Timeout."}, nil
		}
		return 200, []string{"Zzz..."}, nil
	case "HELP":
		return 214, strings.Split(c.server.help, "\n"), nil
	default:
		return 502, []string{"Command not implemented."}, nil
	}
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}
