// Package process launches a single child executable and turns its output and
// exit into a stream of events.
package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/sidecar/internal/logger"
)

const (
	eventBuffer  = 64
	maxLineBytes = 1 << 20
	// drainTimeout bounds how long output is read after the child exited.
	drainTimeout = 500 * time.Millisecond
)

// Spec describes a resolved launch. The child receives no arguments; all
// configuration travels through Env.
type Spec struct {
	Name    string              // logical name, used for logs and capture files
	Path    string              // absolute executable path
	Env     []string            // full environment ("K=V"); nil inherits
	WorkDir string              // optional
	Output  logger.OutputConfig // optional raw output capture
}

// Handle is an exclusively owned reference to a running child.
// Kill consumes it.
type Handle struct {
	name      string
	proc      *os.Process
	startedAt time.Time
	done      chan struct{}
	consumed  atomic.Bool
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) PID() int             { return h.proc.Pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the child has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Consumed reports whether Kill has been called.
func (h *Handle) Consumed() bool { return h.consumed.Load() }

// Alive reports whether the child is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
	}
	ok, err := gopsproc.PidExistsWithContext(context.Background(), int32(h.proc.Pid)) // #nosec G115
	if err != nil {
		return true
	}
	return ok
}

// Kill requests termination of the child (and its process group on Unix).
// It is best-effort and does not wait for the exit. A handle can be killed once;
// later calls return ErrHandleConsumed.
func (h *Handle) Kill() error {
	if !h.consumed.CompareAndSwap(false, true) {
		return ErrHandleConsumed
	}
	select {
	case <-h.done:
		return &TerminationError{PID: h.proc.Pid, Err: os.ErrProcessDone}
	default:
	}
	if err := killTree(h.proc); err != nil {
		return &TerminationError{PID: h.proc.Pid, Err: err}
	}
	return nil
}

// Spawn starts the child described by spec. It returns once the process exists;
// the returned channel delivers stdout/stderr lines in per-stream order, read
// errors, and finally exactly one EventTerminated before it is closed.
// The terminal event follows the child's exit even when a descendant keeps the
// output pipes open; output written after a short drain window is dropped.
// The caller must drain the channel.
func Spawn(spec Spec) (*Handle, <-chan Event, error) {
	if spec.Path == "" {
		return nil, nil, &SpawnError{Name: spec.Name, Err: errors.New("empty executable path")}
	}
	// #nosec G204 -- path comes from the bundled binary registry
	cmd := exec.Command(spec.Path)
	cmd.Dir = spec.WorkDir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}
	configureSysProcAttr(cmd)

	// Own the pipes so Wait never closes the read ends under the readers.
	outR, outPW, err := os.Pipe()
	if err != nil {
		return nil, nil, &SpawnError{Name: spec.Name, Err: err}
	}
	errR, errPW, err := os.Pipe()
	if err != nil {
		closeFiles(outR, outPW)
		return nil, nil, &SpawnError{Name: spec.Name, Err: err}
	}
	cmd.Stdout = outPW
	cmd.Stderr = errPW
	outW, errW, err := spec.Output.Writers(spec.Name)
	if err != nil {
		closeFiles(outR, outPW, errR, errPW)
		return nil, nil, &SpawnError{Name: spec.Name, Err: err}
	}
	err = cmd.Start()
	// The child holds its own copies of the write ends.
	closeFiles(outPW, errPW)
	if err != nil {
		closeFiles(outR, errR)
		closeAll(outW, errW)
		return nil, nil, &SpawnError{Name: spec.Name, Err: err}
	}

	h := &Handle{
		name:      spec.Name,
		proc:      cmd.Process,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	events := make(chan Event, eventBuffer)

	var wg sync.WaitGroup
	wg.Add(2)
	go pump(outR, EventStdout, outW, events, &wg)
	go pump(errR, EventStderr, errW, events, &wg)
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	go func() {
		werr := cmd.Wait()
		close(h.done)
		// A grandchild may still hold the pipes; give the readers a bounded
		// window to flush what the child wrote, then cut them off.
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			closeFiles(outR, errR)
			<-drained
		}
		closeFiles(outR, errR)
		closeAll(outW, errW)
		var ee *exec.ExitError
		if werr != nil && !errors.As(werr, &ee) {
			events <- Event{Kind: EventError, Err: werr}
		}
		events <- Event{Kind: EventTerminated, Payload: terminatedPayload(cmd.ProcessState)}
		close(events)
	}()
	return h, events, nil
}

func pump(r io.Reader, kind EventKind, tee io.Writer, events chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for s.Scan() {
		line := s.Text()
		if tee != nil {
			_, _ = io.WriteString(tee, line+"\n")
		}
		events <- Event{Kind: kind, Line: strings.TrimRight(line, "\r")}
	}
	err := s.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}
	events <- Event{Kind: EventError, Err: err}
	// keep the pipe drained so the child never blocks on a full buffer
	_, _ = io.Copy(io.Discard, r)
}

func closeFiles(fs ...*os.File) {
	for _, f := range fs {
		_ = f.Close()
	}
}

func closeAll(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}
