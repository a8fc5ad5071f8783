package supervisor

import (
	"context"

	"github.com/loykin/sidecar/internal/history"
	"github.com/loykin/sidecar/internal/metrics"
	"github.com/loykin/sidecar/internal/process"
)

// observe logs every event of one backend run. It returns true once the
// terminal event was seen and false if the stream closed without one.
// It never touches the handle slot. run identifies the start this loop belongs to.
func (s *Supervisor) observe(name string, pid int, run uint64, events <-chan process.Event) bool {
	log := s.log.With("sidecar", name, "pid", pid)
	for ev := range events {
		switch ev.Kind {
		case process.EventStdout:
			log.Info("backend stdout", "line", ev.Line)
		case process.EventStderr:
			log.Warn("backend stderr", "line", ev.Line)
		case process.EventError:
			log.Error("backend error", "error", ev.Err)
		case process.EventTerminated:
			rec := history.Record{Name: name, PID: pid}
			args := []any{}
			if ev.Payload != nil {
				rec.Code, rec.Signal = ev.Payload.Code, ev.Payload.Signal
				if rec.Code != nil {
					args = append(args, "code", *rec.Code)
				}
				if rec.Signal != nil {
					args = append(args, "signal", *rec.Signal)
				}
			}
			log.Info("backend terminated", args...)
			metrics.IncEvent(name, ev.Kind.String())
			if s.run.Load() == run {
				metrics.SetRunning(name, false)
			}
			s.send(context.Background(), history.EventExit, rec)
			return true
		default:
			continue
		}
		metrics.IncEvent(name, ev.Kind.String())
	}
	return false
}
