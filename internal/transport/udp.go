package transport

import (
	"context"
	"io"
	"net"
)

// udpConn is a connected UDP socket. An empty datagram marks end of stream
// in both directions.
type udpConn struct {
	*net.UDPConn
}

// Read returns one datagram; an empty datagram reads as io.EOF
func (c *udpConn) Read(p []byte) (int, error) {
	n, err := c.UDPConn.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// CloseWrite sends the empty end-of-stream datagram
func (c *udpConn) CloseWrite() error {
	_, err := c.UDPConn.Write(nil)
	return err
}

// udpDialer opens a connected UDP socket
type udpDialer struct{}

func (d *udpDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var nd net.Dialer
	c, err := nd.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, err
	}
	return &udpConn{UDPConn: c.(*net.UDPConn)}, nil
}
