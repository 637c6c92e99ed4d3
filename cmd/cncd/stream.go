package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/websocket"
	"github.com/mastercactapus/cncd/controller"
	"github.com/sirupsen/logrus"
)

const connectionsChannel = "/events/connections"

// envelope is the wire form of every pushed message.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func (s *server) sendSSE(channel string, m controller.Message) {
	data, err := json.Marshal(envelope{Event: m.Event(), Data: m})
	if err != nil {
		s.log.WithError(err).Error("marshal event")
		return
	}
	s.sse.SendMessage(channel, sse.NewMessage("", string(data), m.Event()))
}

// sseObserver forwards an engine's messages to its /events/{id} channel.
type sseObserver struct {
	s  *server
	id string
}

func (o *sseObserver) ObserverID() string { return "sse" }
func (o *sseObserver) Notify(m controller.Message) {
	o.s.sendSSE("/events/"+o.id, m)
}

var lastClientID int64

type wsObserver struct {
	id  string
	out chan envelope
	s   *server
}

func (o *wsObserver) ObserverID() string { return o.id }

// Notify never blocks the engine; a client that falls behind loses
// messages.
func (o *wsObserver) Notify(m controller.Message) {
	select {
	case o.out <- envelope{Event: m.Event(), Data: m}:
	default:
		o.s.log.WithFields(logrus.Fields{"client": o.id, "event": m.Event()}).Warn("client too slow, message dropped")
	}
}

type wsRequest struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
	Write   *writeRequest   `json:"write"`
}

type wsResult struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Err    string      `json:"err,omitempty"`
}

func (s *server) websocket(w http.ResponseWriter, req *http.Request) {
	e, ok := s.engine(w, req)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade")
		return
	}
	defer conn.Close()

	o := &wsObserver{
		id:  "ws_" + strconv.FormatInt(atomic.AddInt64(&lastClientID, 1), 36),
		out: make(chan envelope, 256),
		s:   s,
	}
	log := s.log.WithField("client", o.id)
	if err := e.Attach(o); err != nil {
		log.WithError(err).Debug("attach")
		return
	}
	defer e.Detach(o.id)
	log.Info("client connected")
	defer log.Info("client disconnected")

	quit := make(chan struct{})
	defer close(quit)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var r wsRequest
			if err := conn.ReadJSON(&r); err != nil {
				return
			}
			res := s.handleWS(req.Context(), e, r)
			select {
			case o.out <- envelope{Event: "command:result", Data: res}:
			case <-quit:
				return
			}
		}
	}()

	for {
		select {
		case env := <-o.out:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(env); err != nil {
				log.WithError(err).Debug("write")
				return
			}
		case <-done:
			return
		case <-e.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed"))
			return
		}
	}
}

func (s *server) handleWS(ctx context.Context, e *controller.Engine, r wsRequest) wsResult {
	res := wsResult{ID: r.ID}
	if r.Write != nil {
		if err := e.Write(r.Write.Data, r.Write.Context); err != nil {
			res.Err = err.Error()
		}
		return res
	}

	cmd, err := controller.ParseCommand(r.Command, r.Args)
	if err != nil {
		res.Err = err.Error()
		return res
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res.Result, err = e.Execute(ctx, cmd)
	if err != nil {
		res.Err = err.Error()
	}
	return res
}
