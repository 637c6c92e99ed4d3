package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mastercactapus/cncd/machine/grbl"
	"github.com/mastercactapus/cncd/machine/marlin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changes struct {
	mx   sync.Mutex
	list []ConnectionChange
}

func (c *changes) add(ch ConnectionChange) {
	c.mx.Lock()
	c.list = append(c.list, ch)
	c.mx.Unlock()
}

func (c *changes) Len() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.list)
}

func TestRegistry_OpenOrGet(t *testing.T) {
	r := NewRegistry(nil)
	defer r.Close()
	ch := &changes{}
	r.OnChange(ch.add)

	const n = 10
	var (
		wg      sync.WaitGroup
		mx      sync.Mutex
		created int
		engines = make(map[*Engine]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, ok, err := r.OpenOrGet(context.Background(), Options{
				Transport:    &fakeTransport{path: "/dev/ttyUSB0"},
				Adapter:      grbl.NewAdapter(),
				PollInterval: time.Hour,
			})
			if !assert.NoError(t, err) {
				return
			}
			mx.Lock()
			engines[e] = true
			if ok {
				created++
			}
			mx.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, engines, 1)
	require.Len(t, r.List(), 1)
	assert.Equal(t, 1, ch.Len())

	id := r.List()[0].ID
	e, ok := r.Get(id)
	require.True(t, ok)
	assert.True(t, engines[e])

	_, _, err := r.OpenOrGet(context.Background(), Options{
		Transport: &fakeTransport{path: "/dev/ttyUSB0"},
		Adapter:   marlin.NewAdapter(),
	})
	assert.ErrorIs(t, err, ErrInUse)

	require.NoError(t, r.Remove(id))
	assert.Empty(t, r.List())
	assert.Eventually(t, func() bool { return ch.Len() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, ch.Len())

	assert.ErrorIs(t, r.Remove(id), ErrNotFound)
}

func TestRegistry_OpenError(t *testing.T) {
	r := NewRegistry(nil)
	boom := errors.New("no such device")
	_, _, err := r.OpenOrGet(context.Background(), Options{
		Transport: &fakeTransport{path: "/dev/ttyUSB1", openErr: boom},
		Adapter:   grbl.NewAdapter(),
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.List())
}

func TestRegistry_OpenCanceled(t *testing.T) {
	r := NewRegistry(nil)
	ch := &changes{}
	r.OnChange(ch.add)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ft := &fakeTransport{path: "/dev/ttyUSB3"}
	_, _, err := r.OpenOrGet(ctx, Options{
		Transport:    ft,
		Adapter:      grbl.NewAdapter(),
		PollInterval: time.Hour,
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, r.List())
	assert.True(t, ft.IsClosed(), "transport left open")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, ch.Len())
}

func TestRegistry_TransportLost(t *testing.T) {
	r := NewRegistry(nil)
	ft := &fakeTransport{path: "/dev/ttyUSB2"}
	e, _, err := r.OpenOrGet(context.Background(), Options{
		Transport:    ft,
		Adapter:      grbl.NewAdapter(),
		PollInterval: time.Hour,
	})
	require.NoError(t, err)

	ft.listener().Close(errors.New("unplugged"))
	<-e.Done()
	assert.Eventually(t, func() bool { return len(r.List()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestEndpointKey(t *testing.T) {
	assert.Equal(t, "fake:path=/dev/ttyUSB0", EndpointKey(&fakeTransport{path: "/dev/ttyUSB0"}))
}
