// Package taskrunner starts shell commands for system event triggers.
package taskrunner

import (
	"errors"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var lastID int64

func nextID() string {
	id := atomic.AddInt64(&lastID, 1)
	return "task_" + strconv.FormatInt(id, 36)
}

type Options struct {
	// Shell runs each command as `Shell -c command`. Defaults to "sh".
	Shell string

	Log *logrus.Entry

	OnStart  func(id string)
	OnFinish func(id string, code int)
	OnError  func(id string, err error)
}

// Runner starts commands without waiting for them. Output is logged line
// by line, tagged with the task ID and PID.
type Runner struct {
	opt Options
	log *logrus.Entry

	mx    sync.Mutex
	tasks map[string]*exec.Cmd
	wg    sync.WaitGroup
}

func New(opt Options) *Runner {
	if opt.Shell == "" {
		opt.Shell = "sh"
	}
	log := opt.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Runner{
		opt:   opt,
		log:   log.WithField("component", "taskrunner"),
		tasks: make(map[string]*exec.Cmd),
	}
}

// Run starts command and returns its task ID. A command that fails to start
// is reported through OnError.
func (r *Runner) Run(command string) string {
	id := nextID()
	cmd := exec.Command(r.opt.Shell, "-c", command)

	log := r.log.WithField("task", id)
	stdout := log.WriterLevel(logrus.InfoLevel)
	stderr := log.WriterLevel(logrus.WarnLevel)
	cmd.Stdout, cmd.Stderr = stdout, stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		log.WithError(err).Error("failed to start a child process")
		if r.opt.OnError != nil {
			r.opt.OnError(id, err)
		}
		return id
	}
	log.WithField("pid", cmd.Process.Pid).Debugf("started: %s", command)

	r.mx.Lock()
	r.tasks[id] = cmd
	r.mx.Unlock()
	if r.opt.OnStart != nil {
		r.opt.OnStart(id)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()

		r.mx.Lock()
		delete(r.tasks, id)
		r.mx.Unlock()

		code := 0
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else if err != nil {
			log.WithError(err).Error("wait")
			if r.opt.OnError != nil {
				r.opt.OnError(id, err)
			}
			return
		}
		log.WithField("code", code).Debug("finished")
		if r.opt.OnFinish != nil {
			r.opt.OnFinish(id, code)
		}
	}()

	return id
}

// Contains reports whether the task is still running.
func (r *Runner) Contains(id string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// Wait blocks until every started task has exited.
func (r *Runner) Wait() { r.wg.Wait() }
