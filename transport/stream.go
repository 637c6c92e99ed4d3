package transport

import (
	"io"
	"sync"
)

// Stream implements the Write, Close and SetListener half of a Transport
// over an io.ReadWriteCloser.
type Stream struct {
	mx      sync.Mutex
	rwc     io.ReadWriteCloser
	l       Listener
	closing bool
}

func (s *Stream) SetListener(l Listener) {
	s.mx.Lock()
	s.l = l
	s.mx.Unlock()
}

// Attach starts reading from rwc. Reads end when rwc fails or is closed.
func (s *Stream) Attach(rwc io.ReadWriteCloser) {
	s.mx.Lock()
	s.rwc = rwc
	s.closing = false
	l := s.l
	s.mx.Unlock()

	done := l.Close
	l.Close = func(err error) {
		s.mx.Lock()
		closing := s.closing
		s.rwc = nil
		s.mx.Unlock()
		// a read error caused by our own Close is not a failure
		if closing {
			err = nil
		}
		if done != nil {
			done(err)
		}
	}
	go Pump(rwc, l)
}

func (s *Stream) Write(p []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.rwc == nil {
		return ErrNotOpen
	}
	_, err := s.rwc.Write(p)
	return err
}

func (s *Stream) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.rwc == nil {
		return nil
	}
	s.closing = true
	return s.rwc.Close()
}
