package main

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mastercactapus/cncd/config"
	"github.com/mastercactapus/cncd/controller"
	"github.com/mastercactapus/cncd/expression"
	"github.com/mastercactapus/cncd/machine"
	"github.com/mastercactapus/cncd/watchdir"
	"github.com/sirupsen/logrus"
)

type server struct {
	http.Handler

	cfg   *config.Config
	reg   *controller.Registry
	dir   *watchdir.Dir
	tasks controller.TaskRunner
	root  *logrus.Entry
	log   *logrus.Entry

	sse      *sse.Server
	upgrader websocket.Upgrader
}

func newServer(cfg *config.Config, reg *controller.Registry, dir *watchdir.Dir, tasks controller.TaskRunner, log *logrus.Entry) *server {
	r := mux.NewRouter()
	s := &server{
		Handler: r,
		cfg:     cfg,
		reg:     reg,
		dir:     dir,
		tasks:   tasks,
		root:    log,
		log:     log.WithField("component", "api"),
		sse: sse.NewServer(&sse.Options{
			Logger: newDiscardLogger(),
		}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	reg.OnChange(func(c controller.ConnectionChange) {
		s.sendSSE(connectionsChannel, c)
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/controllers", s.listControllers).Methods("GET")
	api.HandleFunc("/connections", s.listConnections).Methods("GET")
	api.HandleFunc("/connections", s.openConnection).Methods("POST")
	api.HandleFunc("/connections/{id}", s.closeConnection).Methods("DELETE")
	api.HandleFunc("/connections/{id}/state", s.connectionState).Methods("GET")
	api.HandleFunc("/connections/{id}/write", s.write).Methods("POST")
	api.HandleFunc("/connections/{id}/commands/{name}", s.command).Methods("POST")

	r.Handle("/events/{id}", s.sse).Methods("GET")
	r.HandleFunc("/ws/{id}", s.websocket).Methods("GET")

	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			s.getFile(w, req)
		case "PUT":
			s.putFile(w, req)
		case "DELETE":
			s.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	return s
}

func newDiscardLogger() *log.Logger { return log.New(ioutil.Discard, "", 0) }

// open builds the transport and adapter for conn and opens it through the
// registry. New engines get an SSE observer attached.
func (s *server) open(ctx context.Context, conn config.Connection) (*controller.Engine, bool, error) {
	tr, err := conn.Transport(s.log)
	if err != nil {
		return nil, false, err
	}
	adapter, err := controller.NewAdapter(conn.Controller)
	if err != nil {
		return nil, false, err
	}
	e, created, err := s.reg.OpenOrGet(ctx, controller.Options{
		Transport:    tr,
		Adapter:      adapter,
		Log:          s.root.WithField("controller", conn.Controller),
		Macros:       s.cfg,
		Tasks:        s.tasks,
		Files:        s.dir,
		Events:       s.cfg.TriggerEvents,
		IgnoreErrors: s.cfg.Controller.Exception.IgnoreErrors,
		PollInterval: s.cfg.Controller.PollInterval,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := e.Attach(&sseObserver{s: s, id: e.Identity().ID}); err != nil {
			s.log.WithError(err).Warn("attach event stream")
		}
	}
	return e, created, nil
}

func (s *server) Close() {
	s.sse.Shutdown()
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, controller.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrUnknownCommand),
		errors.Is(err, controller.ErrUnknownController),
		errors.Is(err, controller.ErrMacroNotFound),
		errors.Is(err, machine.ErrUnsupportedValue),
		errors.Is(err, watchdir.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrInUse),
		errors.Is(err, controller.ErrSenderBusy),
		errors.Is(err, controller.ErrNotReady),
		errors.Is(err, controller.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, machine.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (s *server) fail(w http.ResponseWriter, op string, err error) {
	code := statusOf(err)
	if code >= 500 {
		s.log.WithError(err).Error(op)
	} else {
		s.log.WithError(err).Debug(op)
	}
	http.Error(w, err.Error(), code)
}

func (s *server) reply(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("encode response")
	}
}

func (s *server) engine(w http.ResponseWriter, req *http.Request) (*controller.Engine, bool) {
	id := mux.Vars(req)["id"]
	e, ok := s.reg.Get(id)
	if !ok {
		http.Error(w, controller.ErrNotFound.Error(), http.StatusNotFound)
	}
	return e, ok
}

func (s *server) listControllers(w http.ResponseWriter, req *http.Request) {
	s.reply(w, http.StatusOK, controller.Types)
}

func (s *server) listConnections(w http.ResponseWriter, req *http.Request) {
	s.reply(w, http.StatusOK, s.reg.List())
}

func (s *server) openConnection(w http.ResponseWriter, req *http.Request) {
	var conn config.Connection
	if err := json.NewDecoder(req.Body).Decode(&conn); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := conn.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e, created, err := s.open(req.Context(), conn)
	if err != nil {
		s.fail(w, "open connection", err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	s.reply(w, code, e.Identity())
}

func (s *server) closeConnection(w http.ResponseWriter, req *http.Request) {
	if err := s.reg.Remove(mux.Vars(req)["id"]); err != nil {
		s.fail(w, "close connection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) connectionState(w http.ResponseWriter, req *http.Request) {
	e, ok := s.engine(w, req)
	if !ok {
		return
	}
	s.reply(w, http.StatusOK, struct {
		controller.Identity
		State    *machine.State    `json:"state"`
		Settings *machine.Settings `json:"settings"`
	}{e.Identity(), e.State(), e.Settings()})
}

type writeRequest struct {
	Data    string             `json:"data"`
	Context expression.Context `json:"context"`
}

func (s *server) write(w http.ResponseWriter, req *http.Request) {
	e, ok := s.engine(w, req)
	if !ok {
		return
	}
	var body writeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := e.Write(body.Data, body.Context); err != nil {
		s.fail(w, "write", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) command(w http.ResponseWriter, req *http.Request) {
	e, ok := s.engine(w, req)
	if !ok {
		return
	}
	args, err := ioutil.ReadAll(req.Body)
	if err != nil {
		return
	}
	cmd, err := controller.ParseCommand(mux.Vars(req)["name"], args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 30*time.Second)
	defer cancel()
	res, err := e.Execute(ctx, cmd)
	if err != nil {
		s.fail(w, "command", err)
		return
	}
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.reply(w, http.StatusOK, res)
}

func (s *server) getFile(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Path
	if strings.HasSuffix(name, "/") {
		list, err := s.dir.List(name)
		if err != nil {
			s.fail(w, "list files", err)
			return
		}
		s.reply(w, http.StatusOK, list)
		return
	}
	data, err := s.dir.ReadFile(name)
	if err != nil {
		s.fail(w, "read file", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func (s *server) putFile(w http.ResponseWriter, req *http.Request) {
	if err := s.dir.WriteFile(req.URL.Path, req.Body); err != nil {
		s.fail(w, "write file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteFile(w http.ResponseWriter, req *http.Request) {
	if err := s.dir.Remove(req.URL.Path); err != nil {
		s.fail(w, "delete file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
