// Package control carries the cross-thread notifications that glue the
// Priority, Receiving and Reliable Channels together (spec §4.5-§4.7),
// without the three channel packages needing to import one another.
//
// Every connection's ConnMeta is constructed exactly once, by the
// Communicator, and handed to each channel's AddConnection notification as
// a shared pointer: ConnMeta.sending_rate crosses threads (spec §5), so
// all three channels must mutate the same struct rather than three
// independent copies.
package control

import (
	"github.com/mlt-io/mlt/connmeta"
	"github.com/mlt-io/mlt/wire"
)

// PriorityKind is the notification_queue discriminant consumed by the
// Priority Channel (spec §4.5).
type PriorityKind int

const (
	AddConnection PriorityKind = iota
	RemoveConnection
	StopFlow
	RequestRetransmit
)

// PriorityNotification is one entry on the Priority Channel's
// notification_queue.
type PriorityNotification struct {
	Kind           PriorityKind
	CommID         int32
	Conn           *connmeta.ConnMeta // set on AddConnection
	MsgID          uint32
	RetransmitBuf  wire.RetransmitRequest
	RemoveDoneChan chan<- struct{} // closed once RemoveConnection has completed, for synchronous callers
}

// RecvKind is the discriminant for notifications dispatched into the
// Receiving Channel by the Reliable Endpoint (spec §4.4, §4.6) or by the
// Communicator's connection lifecycle calls.
type RecvKind int

const (
	RecvAddConnection RecvKind = iota
	RecvRemoveConnection
	FinishFlow
	ConfirmStop
)

// RecvNotification is one entry on the Receiving Channel's notification queue.
type RecvNotification struct {
	Kind           RecvKind
	CommID         int32
	Conn           *connmeta.ConnMeta // set on RecvAddConnection
	MsgID          uint32
	MaxSeq         uint32
	RemoveDoneChan chan<- struct{} // closed once RecvRemoveConnection has completed
}

// ReliableKind is the discriminant for notifications dispatched into the
// Reliable Channel by the Communicator's connection lifecycle calls.
type ReliableKind int

const (
	ReliableAddConnection ReliableKind = iota
	ReliableRemoveConnection
)

// ReliableNotification is one entry on the Reliable Channel's notification queue.
type ReliableNotification struct {
	Kind           ReliableKind
	CommID         int32
	Conn           *connmeta.ConnMeta // set on ReliableAddConnection
	RemoveDoneChan chan<- struct{}
}

// MetaMessage is a decoded UserData signal handed to the Communicator's
// RecvMeta queue (spec §4.4's "push (src, buffer) to Communicator's meta
// queue").
type MetaMessage struct {
	SrcCommID int32
	Payload   []byte
}

// OutboundFrame is a pre-framed control buffer destined for one peer,
// queued for the Reliable Channel to transmit (spec §4.7).
type OutboundFrame struct {
	DestCommID int32
	Frame      []byte
}
