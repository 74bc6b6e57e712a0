// Package completion defines the Communicator's completion-queue record
// (spec §6).
package completion

// Kind distinguishes a Send completion from a Recv completion.
type Kind int

const (
	Send Kind = iota
	Recv
)

func (k Kind) String() string {
	if k == Send {
		return "Send"
	}
	return "Recv"
}

// Completion is one entry posted to the application's completion queue.
type Completion struct {
	MsgID        uint32
	Type         Kind
	RemoteCommID int32
	Bytes        uint32
}
