package socket

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/mastercactapus/cncd/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr := New(Options{Host: "127.0.0.1", Port: addr.Port})
	assert.Equal(t, Type, tr.Type())
	assert.Equal(t, addr.Port, tr.Settings()["port"])

	data := make(chan string, 10)
	closed := make(chan error, 1)
	tr.SetListener(transport.Listener{
		Data:  func(p []byte) { data <- string(p) },
		Close: func(err error) { closed <- err },
	})

	assert.ErrorIs(t, tr.Write([]byte("?")), transport.ErrNotOpen)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Open(ctx))

	var srv net.Conn
	select {
	case srv = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection")
	}
	defer srv.Close()

	_, err = srv.Write([]byte("ok\n"))
	require.NoError(t, err)
	select {
	case s := <-data:
		assert.Equal(t, "ok\n", s)
	case <-time.After(5 * time.Second):
		t.Fatal("no data")
	}

	require.NoError(t, tr.Write([]byte("G0 X1\n")))
	line, err := bufio.NewReader(srv).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "G0 X1\n", line)

	require.NoError(t, tr.Close())
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no close")
	}
	assert.ErrorIs(t, tr.Write([]byte("?")), transport.ErrNotOpen)
}

func TestTransport_PeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	tr := New(Options{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port})
	closed := make(chan error, 1)
	tr.SetListener(transport.Listener{Close: func(err error) { closed <- err }})
	require.NoError(t, tr.Open(context.Background()))

	select {
	case err := <-closed:
		assert.NoError(t, err, "EOF is a clean close")
	case <-time.After(5 * time.Second):
		t.Fatal("no close")
	}
}

func TestTransport_DialError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := New(Options{Host: "127.0.0.1", Port: 1})
	assert.Error(t, tr.Open(ctx))
}
