package transport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"testing"
)

// startSOCKS5 runs a no-auth SOCKS5 CONNECT proxy and reports each
// requested destination on the returned channel.
func startSOCKS5(t *testing.T) (string, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	requests := make(chan string, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS5(c, requests)
		}
	}()
	return ln.Addr().String(), requests
}

func serveSOCKS5(c net.Conn, requests chan<- string) {
	defer c.Close()

	// Greeting: VER NMETHODS METHODS...
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(c, hdr); err != nil {
		return
	}
	if _, err := io.ReadFull(c, make([]byte, hdr[1])); err != nil {
		return
	}
	c.Write([]byte{0x05, 0x00})

	// Request: VER CMD RSV ATYP DST.ADDR DST.PORT
	req := make([]byte, 4)
	if _, err := io.ReadFull(c, req); err != nil {
		return
	}
	var host string
	switch req[3] {
	case 0x01:
		ip := make([]byte, 4)
		if _, err := io.ReadFull(c, ip); err != nil {
			return
		}
		host = net.IP(ip).String()
	case 0x03:
		n := make([]byte, 1)
		if _, err := io.ReadFull(c, n); err != nil {
			return
		}
		name := make([]byte, n[0])
		if _, err := io.ReadFull(c, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	portBytes := make([]byte, 2)
	if _, err := io.ReadFull(c, portBytes); err != nil {
		return
	}
	dest := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(portBytes))))
	requests <- dest

	target, err := net.Dial("tcp", dest)
	if err != nil {
		c.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	defer target.Close()
	c.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

	go io.Copy(target, c)
	io.Copy(c, target)
}

func TestOpen_ThroughSOCKS5(t *testing.T) {
	echoAddr := startEchoServer(t)
	proxyAddr, requests := startSOCKS5(t)

	conn, err := Open(context.Background(), Config{
		Scheme:  SchemeTCP,
		Address: echoAddr,
		Dialer:  &SOCKS5Dialer{Address: proxyAddr},
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	if got := <-requests; got != echoAddr {
		t.Errorf("proxy asked for %q, want %q", got, echoAddr)
	}
	if got := roundTrip(t, conn, "via proxy"); got != "via proxy" {
		t.Errorf("echo = %q", got)
	}
}

func TestSOCKS5Dialer_ProxyDown(t *testing.T) {
	d := &SOCKS5Dialer{Address: freeAddr(t)}
	if _, err := d.Dial(context.Background(), "tcp", "127.0.0.1:1883"); err == nil {
		t.Error("Dial() expected error with no proxy listening")
	}
}
