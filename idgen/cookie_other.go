//go:build !linux

package idgen

import (
	"net"
	"sync/atomic"
)

var fallbackCounter uint64

// FromTCPConn returns a correlation id unique to this socket. SO_COOKIE is
// Linux-only, so non-Linux hosts fall back to a per-process counter; still
// unique within this process's prefix namespace.
func FromTCPConn(localCommID, peerCommID int32, t *net.TCPConn) (string, error) {
	return FromCookie(localCommID, peerCommID, atomic.AddUint64(&fallbackCounter, 1))
}
