//go:build windows

package process

import "os"

// killTree terminates the child. Windows has no signals; TerminateProcess is used.
func killTree(p *os.Process) error {
	return p.Kill()
}

func terminatedPayload(ps *os.ProcessState) *TerminatedPayload {
	out := &TerminatedPayload{}
	if ps == nil {
		return out
	}
	if code := ps.ExitCode(); code >= 0 {
		out.Code = &code
	}
	return out
}
