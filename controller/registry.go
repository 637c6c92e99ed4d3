package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mastercactapus/cncd/transport"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound = errors.New("connection not found")
	ErrInUse    = errors.New("connection in use by another controller type")
)

// Registry tracks the open engines, one per transport endpoint.
type Registry struct {
	log *logrus.Entry

	mx        sync.RWMutex
	engines   map[string]*Engine
	listeners []func(ConnectionChange)
}

func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		log:     log.WithField("component", "registry"),
		engines: make(map[string]*Engine),
	}
}

// EndpointKey identifies what a transport connects to, e.g.
// "serial:path=/dev/ttyUSB0".
func EndpointKey(tr transport.Transport) string {
	s := tr.Settings()
	keys := make([]string, 0, len(s))
	for k := range s {
		// not part of the endpoint
		if k == "baudRate" || k == "rtscts" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, s[k]))
	}
	return tr.Type() + ":" + strings.Join(parts, ",")
}

// OnChange registers fn to be called whenever a connection opens or closes.
func (r *Registry) OnChange(fn func(ConnectionChange)) {
	r.mx.Lock()
	r.listeners = append(r.listeners, fn)
	r.mx.Unlock()
}

func (r *Registry) notify(c ConnectionChange) {
	r.mx.RLock()
	ls := append([]func(ConnectionChange){}, r.listeners...)
	r.mx.RUnlock()
	for _, fn := range ls {
		fn(c)
	}
}

// OpenOrGet returns the engine already open on opt.Transport's endpoint, or
// builds and opens a new one. created reports which happened.
func (r *Registry) OpenOrGet(ctx context.Context, opt Options) (e *Engine, created bool, err error) {
	key := EndpointKey(opt.Transport)

	r.mx.Lock()
	if cur, ok := r.engines[key]; ok {
		r.mx.Unlock()
		if cur.Type() != opt.Adapter.Type() {
			return nil, false, fmt.Errorf("%w: %s is %s", ErrInUse, key, cur.Type())
		}
		return cur, false, nil
	}

	onClose := opt.OnClose
	opt.OnClose = func(e *Engine, err error) {
		if r.remove(key, e) {
			r.notify(ConnectionChange{Identity: e.Identity(), Open: false})
		}
		if onClose != nil {
			onClose(e, err)
		}
	}
	e = New(opt)
	r.engines[key] = e
	r.mx.Unlock()

	if err := e.Open(ctx); err != nil {
		r.remove(key, e)
		e.Close()
		return nil, false, err
	}
	r.log.WithFields(logrus.Fields{"connection": e.Identity().ID, "endpoint": key}).Info("connection opened")
	r.notify(ConnectionChange{Identity: e.Identity(), Open: true})
	return e, true, nil
}

// remove drops e if it is still registered under key.
func (r *Registry) remove(key string, e *Engine) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.engines[key] != e {
		return false
	}
	delete(r.engines, key)
	return true
}

func (r *Registry) lookup(id string) (string, *Engine) {
	r.mx.RLock()
	defer r.mx.RUnlock()
	for key, e := range r.engines {
		if e.Identity().ID == id {
			return key, e
		}
	}
	return "", nil
}

// Get looks an engine up by connection ID.
func (r *Registry) Get(id string) (*Engine, bool) {
	_, e := r.lookup(id)
	return e, e != nil
}

// Remove closes and forgets a connection.
func (r *Registry) Remove(id string) error {
	key, e := r.lookup(id)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.log.WithField("connection", id).Info("close connection")
	err := e.Close()
	if r.remove(key, e) {
		r.notify(ConnectionChange{Identity: e.Identity(), Open: false})
	}
	return err
}

// List returns the open connections ordered by ID.
func (r *Registry) List() []Identity {
	r.mx.RLock()
	res := make([]Identity, 0, len(r.engines))
	for _, e := range r.engines {
		res = append(res, e.Identity())
	}
	r.mx.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Close closes every connection.
func (r *Registry) Close() {
	r.mx.RLock()
	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	r.mx.RUnlock()

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			if err := e.Close(); err != nil {
				r.log.WithError(err).Warn("close connection")
			}
		}(e)
	}
	wg.Wait()
}
