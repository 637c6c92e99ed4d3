// Package serial is a Transport over a local serial port.
package serial

import (
	"context"
	"fmt"

	"github.com/mastercactapus/cncd/transport"
	"github.com/tarm/serial"
)

const Type = "serial"

type Options struct {
	Path string
	Baud int
	// RTSCTS is recorded for observers; the port driver does not expose
	// hardware flow control.
	RTSCTS bool
}

type Transport struct {
	transport.Stream
	opt Options
}

var _ transport.Transport = &Transport{}

func New(opt Options) *Transport {
	if opt.Baud == 0 {
		opt.Baud = 115200
	}
	return &Transport{opt: opt}
}

func (t *Transport) Type() string { return Type }

func (t *Transport) Settings() map[string]interface{} {
	return map[string]interface{}{
		"path":     t.opt.Path,
		"baudRate": t.opt.Baud,
		"rtscts":   t.opt.RTSCTS,
	}
}

func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	port, err := serial.OpenPort(&serial.Config{Name: t.opt.Path, Baud: t.opt.Baud})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", t.opt.Path, err)
	}
	t.Attach(port)
	return nil
}
