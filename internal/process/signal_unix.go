//go:build !windows

package process

import (
	"os"
	"syscall"
)

// killTree sends SIGKILL to the child's process group, falling back to the
// child alone when the group is gone.
func killTree(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}

func terminatedPayload(ps *os.ProcessState) *TerminatedPayload {
	out := &TerminatedPayload{}
	if ps == nil {
		return out
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
		switch {
		case ws.Signaled():
			sig := int(ws.Signal())
			out.Signal = &sig
		case ws.Exited():
			code := ws.ExitStatus()
			out.Code = &code
		}
		return out
	}
	if code := ps.ExitCode(); code >= 0 {
		out.Code = &code
	}
	return out
}
