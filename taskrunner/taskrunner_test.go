package taskrunner

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mx sync.Mutex
	bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.Buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.Buffer.String()
}

func TestRunner_Run(t *testing.T) {
	var out syncBuffer
	l := logrus.New()
	l.SetOutput(&out)
	l.SetLevel(logrus.DebugLevel)

	var mx sync.Mutex
	finished := make(map[string]int)
	r := New(Options{
		Log: logrus.NewEntry(l),
		OnFinish: func(id string, code int) {
			mx.Lock()
			finished[id] = code
			mx.Unlock()
		},
	})

	id := r.Run("echo hello; exit 3")
	assert.True(t, strings.HasPrefix(id, "task_"))
	r.Wait()

	assert.False(t, r.Contains(id))
	mx.Lock()
	assert.Equal(t, map[string]int{id: 3}, finished)
	mx.Unlock()
	// output is logged from the logger's own goroutine
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "hello") }, time.Second, 10*time.Millisecond)
}

func TestRunner_StartError(t *testing.T) {
	var errs []string
	r := New(Options{
		Shell:   "/nonexistent/shell",
		OnError: func(id string, err error) { errs = append(errs, id) },
	})
	id := r.Run("true")
	r.Wait()
	assert.Equal(t, []string{id}, errs)
}
