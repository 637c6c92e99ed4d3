// Package socket is a Transport over TCP, for firmwares behind a network
// bridge such as ser2net or Smoothieboard's telnet port.
package socket

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/mastercactapus/cncd/transport"
)

const Type = "socket"

type Options struct {
	Host string
	Port int
}

type Transport struct {
	transport.Stream
	opt Options
}

var _ transport.Transport = &Transport{}

func New(opt Options) *Transport {
	return &Transport{opt: opt}
}

func (t *Transport) Type() string { return Type }

func (t *Transport) Settings() map[string]interface{} {
	return map[string]interface{}{
		"host": t.opt.Host,
		"port": t.opt.Port,
	}
}

func (t *Transport) addr() string {
	return net.JoinHostPort(t.opt.Host, strconv.Itoa(t.opt.Port))
}

func (t *Transport) Open(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr(), err)
	}
	t.Attach(conn)
	return nil
}
