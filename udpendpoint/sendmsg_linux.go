//go:build linux

package udpendpoint

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/mlt-io/mlt/wire"
)

// setToS tags outgoing datagrams on conn with a DSCP/ECN codepoint via
// IP_TOS (or IPV6_TCLASS for v6 sockets), per spec §4.3.
func setToS(conn *net.UDPConn, tos uint8) error {
	sc, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	cerr := sc.Control(func(fd uintptr) {
		if isIPv6(conn) {
			serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, int(tos))
			return
		}
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, int(tos))
	})
	if cerr != nil {
		return cerr
	}
	return serr
}

func isIPv6(conn *net.UDPConn) bool {
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	return ok && addr.IP.To4() == nil
}

// sendOne writes one GradPacket (header followed by payload) to dest via a
// real 2-element iovec sendmsg(2), invoked through SyscallConn so the
// runtime netpoller parks the goroutine until the socket is writable
// instead of busy-looping. The header and grad buffers are handed to the
// kernel as separate iovecs (spec §4.3): grad is never copied into a
// contiguous packet buffer alongside the header.
func sendOne(conn *net.UDPConn, dest *net.UDPAddr, header wire.Header, grad []byte) error {
	var headerBuf [wire.HeaderSize]byte
	wire.PutHeader(headerBuf[:], header)

	sa, err := toSockaddr(dest)
	if err != nil {
		return err
	}

	sc, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	cerr := sc.Write(func(fd uintptr) bool {
		_, e := unix.SendmsgBuffers(int(fd), [][]byte{headerBuf[:], grad}, nil, sa, 0)
		if e == unix.EAGAIN {
			return false // ask the runtime to wait for writability and retry
		}
		serr = e
		return true
	})
	if cerr != nil {
		return cerr
	}
	return serr
}

func toSockaddr(dest *net.UDPAddr) (unix.Sockaddr, error) {
	ip4 := dest.IP.To4()
	if ip4 != nil {
		sa := &unix.SockaddrInet4{Port: dest.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: dest.Port}
	copy(sa.Addr[:], dest.IP.To16())
	return sa, nil
}
