package process

import "strconv"

// EventKind identifies a notification produced by a running child.
type EventKind int

const (
	EventStdout EventKind = iota + 1
	EventStderr
	EventError
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventError:
		return "error"
	case EventTerminated:
		return "terminated"
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// TerminatedPayload carries what the OS reported when the child ended.
// Either field may be nil.
type TerminatedPayload struct {
	Code   *int
	Signal *int
}

// Event is one notification from the child's combined event stream.
type Event struct {
	Kind    EventKind
	Line    string             // stdout / stderr
	Err     error              // error
	Payload *TerminatedPayload // terminated
}
