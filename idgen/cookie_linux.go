//go:build linux

package idgen

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// getCookie returns the kernel-assigned SO_COOKIE for a TCP socket via
// SyscallConn, the same socket-option idiom reliable.SetDSCP and
// udpendpoint's sendOne use elsewhere in this tree, rather than the
// teacher uuid package's raw syscall.Syscall6/SYS_GETSOCKOPT call through a
// duplicated *os.File. For a given boot of a given hostname this cookie is
// unique until the host accepts more than 2^64 connections without
// rebooting.
func getCookie(t *net.TCPConn) (uint64, error) {
	raw, err := t.SyscallConn()
	if err != nil {
		return 0, err
	}
	var cookie uint64
	var serr error
	cerr := raw.Control(func(fd uintptr) {
		cookie, serr = unix.GetsockoptUint64(int(fd), unix.SOL_SOCKET, unix.SO_COOKIE)
	})
	if cerr != nil {
		return 0, cerr
	}
	if serr != nil {
		return 0, fmt.Errorf("idgen: getsockopt(SO_COOKIE): %w", serr)
	}
	return cookie, nil
}

// FromTCPConn returns a correlation id unique to this socket, scoped to the
// comm_id pair the reliable-channel handshake negotiated for it.
func FromTCPConn(localCommID, peerCommID int32, t *net.TCPConn) (string, error) {
	cookie, err := getCookie(t)
	if err != nil {
		return "", err
	}
	return FromCookie(localCommID, peerCommID, cookie)
}
