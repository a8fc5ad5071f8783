//go:build !windows

package process

import (
	"syscall"
	"testing"
	"time"
)

func TestTerminatedWhileDescendantHoldsOutput(t *testing.T) {
	path := writeScript(t, "sleep 3 &\necho parent-exiting\nexit 5")
	h, events, err := Spawn(Spec{Name: "child", Path: path})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	// the background sleep shares the child's process group
	t.Cleanup(func() { _ = syscall.Kill(-h.PID(), syscall.SIGKILL) })

	start := time.Now()
	evs := collect(t, events, 2*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("terminal event took %v", elapsed)
	}
	var sawLine bool
	for _, ev := range evs {
		if ev.Kind == EventStdout && ev.Line == "parent-exiting" {
			sawLine = true
		}
		if ev.Kind == EventError {
			t.Fatalf("closing the readers must not surface as an error: %v", ev.Err)
		}
	}
	if !sawLine {
		t.Fatalf("output written before exit was lost: %+v", evs)
	}
	last := evs[len(evs)-1]
	if last.Kind != EventTerminated || last.Payload == nil || last.Payload.Code == nil || *last.Payload.Code != 5 {
		t.Fatalf("unexpected terminal event: %+v", last)
	}
	select {
	case <-h.Done():
	default:
		t.Fatal("done not closed after the terminal event")
	}
	if h.Alive() {
		t.Fatal("handle reports alive after exit")
	}
}
