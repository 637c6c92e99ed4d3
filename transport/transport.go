// Package transport defines the byte stream a controller talks to a device over.
package transport

import (
	"context"
	"errors"
	"io"
)

// ErrNotOpen is returned by Write before Open succeeds or after Close.
var ErrNotOpen = errors.New("transport not open")

// Listener receives everything a Transport reads. Callbacks are made from
// the transport's own goroutine and must not block.
type Listener struct {
	Data  func([]byte)
	Close func(err error)
	Error func(err error)
}

// Transport is a duplex byte stream to a device.
type Transport interface {
	// Type is the transport kind, e.g. "serial".
	Type() string
	// Settings describes the endpoint, e.g. path and baud rate.
	Settings() map[string]interface{}

	Open(ctx context.Context) error
	Close() error
	Write(p []byte) error

	// SetListener must be called before Open.
	SetListener(l Listener)
}

// Pump copies r into l.Data until r fails, then reports the failure through
// l.Close. A clean EOF is reported as a nil error.
func Pump(r io.Reader, l Listener) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && l.Data != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			l.Data(data)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if l.Close != nil {
			l.Close(err)
		}
		return
	}
}
