package ftp

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/textproto"
)

// tap is handed to jlaffaye as its dial function. The first connection it
// dials is the control channel, every later one is a data channel. Keeping
// hold of both lets the adapter send commands the library has no method for
// and read LIST output verbatim instead of the library's parsed entries.
type tap struct {
	dialer    net.Dialer
	tlsConfig *tls.Config

	control *controlConn
	// capture receives a copy of the bytes read from data channels while set.
	capture io.Writer
}

func (t *tap) dial(network, address string) (net.Conn, error) {
	conn, err := t.dialer.Dial(network, address)
	if err != nil {
		return nil, err
	}
	if t.tlsConfig != nil {
		conn = tls.Client(conn, t.tlsConfig)
	}

	if t.control == nil {
		t.control = newControlConn(conn)
		return t.control, nil
	}
	if t.capture != nil {
		return &captureConn{Conn: conn, w: t.capture}, nil
	}
	return conn, nil
}

// controlConn shares one buffered reader between the library and exchange.
// FTP replies strictly alternate with commands, so nothing is ever left
// buffered on behalf of the other reader.
type controlConn struct {
	net.Conn
	reader *bufio.Reader
}

func newControlConn(conn net.Conn) *controlConn {
	return &controlConn{Conn: conn, reader: bufio.NewReader(conn)}
}

func (c *controlConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (c *controlConn) exchange(command string) (int, string, error) {
	if _, err := io.WriteString(c.Conn, command+"\r\n"); err != nil {
		return 0, "", err
	}
	return textproto.NewReader(c.reader).ReadResponse(0)
}

type captureConn struct {
	net.Conn
	w io.Writer
}

func (c *captureConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		_, _ = c.w.Write(p[:n])
	}
	return n, err
}
