// Package spjs is a Transport that reaches a serial port through a Serial
// Port JSON Server (chilipeppr's serial-port-json-server) over WebSocket.
package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/mastercactapus/cncd/transport"
	"github.com/sirupsen/logrus"
)

const Type = "spjs"

type Options struct {
	URL  string
	Port string
	Baud int
	// BufferAlgorithm is the server side buffering, "default" lets the
	// engine do flow control.
	BufferAlgorithm string

	Log *logrus.Entry
}

type Transport struct {
	opt Options
	log *logrus.Entry

	mx      sync.Mutex
	ws      *websocket.Conn
	l       transport.Listener
	closing bool
}

var _ transport.Transport = &Transport{}

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "cmd_" + strconv.FormatInt(id, 36)
}

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Type       []string
	Data       []string `json:"D"`
	ID         string   `json:"Id"`
	Port       string   `json:"P"`
}

type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name            string
	Friendly        string
	IsOpen          bool
	Baud            int
	BufferAlgorithm string
}

type JSON struct {
	Port string `json:"P"`
	Data []Data
}
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func New(opt Options) *Transport {
	if opt.Baud == 0 {
		opt.Baud = 115200
	}
	if opt.BufferAlgorithm == "" {
		opt.BufferAlgorithm = "default"
	}
	log := opt.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Transport{opt: opt, log: log.WithField("transport", Type)}
}

func (t *Transport) Type() string { return Type }

func (t *Transport) Settings() map[string]interface{} {
	return map[string]interface{}{
		"url":      t.opt.URL,
		"path":     t.opt.Port,
		"baudRate": t.opt.Baud,
	}
}

func (t *Transport) SetListener(l transport.Listener) {
	t.mx.Lock()
	t.l = l
	t.mx.Unlock()
}

func (t *Transport) Open(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, t.opt.URL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.opt.URL, err)
	}
	t.log.WithField("url", t.opt.URL).Info("connected")

	open := fmt.Sprintf("open %s %d %s", t.opt.Port, t.opt.Baud, t.opt.BufferAlgorithm)
	if err = ws.WriteMessage(websocket.TextMessage, []byte(open)); err != nil {
		ws.Close()
		return fmt.Errorf("open %s: %w", t.opt.Port, err)
	}

	t.mx.Lock()
	t.ws = ws
	t.closing = false
	t.mx.Unlock()

	go t.readLoop(ws)
	return nil
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	if err = json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Type", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

func (t *Transport) listener() transport.Listener {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.l
}

func (t *Transport) readLoop(ws *websocket.Conn) {
	var readErr error
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			t.log.WithError(err).Debug("parse")
			continue
		}

		l := t.listener()
		switch m := val.(type) {
		case *DataFrame:
			if m.Port == t.opt.Port && l.Data != nil {
				l.Data([]byte(m.Data))
			}
		case *ErrorMessage:
			if l.Error != nil {
				l.Error(errors.New(m.Error))
			}
		case *CmdStatus:
			t.log.WithFields(logrus.Fields{"cmd": m.Cmd, "id": m.ID}).Trace("status")
		}
	}

	t.mx.Lock()
	closing := t.closing
	t.ws = nil
	t.mx.Unlock()
	if closing {
		readErr = nil
	} else {
		t.log.WithError(readErr).Error("read")
	}
	if l := t.listener(); l.Close != nil {
		l.Close(readErr)
	}
}

func (t *Transport) send(payload []byte) error {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.ws == nil {
		return transport.ErrNotOpen
	}
	return t.ws.WriteMessage(websocket.TextMessage, payload)
}

// Write sends p as a single sendjson request.
func (t *Transport) Write(p []byte) error {
	data, err := json.Marshal(JSON{Port: t.opt.Port, Data: []Data{{Data: string(p), ID: nextID()}}})
	if err != nil {
		return err
	}
	return t.send(append([]byte("sendjson "), data...))
}

func (t *Transport) Close() error {
	t.mx.Lock()
	ws := t.ws
	if ws == nil {
		t.mx.Unlock()
		return nil
	}
	t.closing = true
	err := ws.WriteMessage(websocket.TextMessage, []byte("close "+t.opt.Port))
	t.mx.Unlock()
	if cerr := ws.Close(); err == nil {
		err = cerr
	}
	return err
}
