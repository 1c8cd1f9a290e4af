package beastmux

import (
	"net"
	"testing"
)

// mustListen binds an ephemeral loopback TCP listener for tests that
// need a real *net.TCPConn (newClient takes one, not a net.Conn).
func mustListen(t *testing.T) *net.TCPListener {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

// mustDialSelf dials ln and returns the accepted server-side
// *net.TCPConn.
func mustDialSelf(t *testing.T, ln *net.TCPListener) *net.TCPConn {
	t.Helper()
	done := make(chan *net.TCPConn, 1)
	go func() {
		conn, err := ln.AcceptTCP()
		if err != nil {
			done <- nil
			return
		}
		done <- conn
	}()
	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	conn := <-done
	if conn == nil {
		t.Fatalf("accept failed")
	}
	return conn
}
