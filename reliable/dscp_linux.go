//go:build linux

package reliable

import (
	"net"

	"golang.org/x/sys/unix"
)

// SetDSCP tags the TCP control socket's outgoing segments with a DSCP/ECN
// codepoint via IP_TOS (or IPV6_TCLASS for v6 sockets), mirroring
// udpendpoint.setToS for the reliable channel's own socket (spec §4.4/§6's
// ReliableDSCP).
func SetDSCP(conn net.Conn, tos uint8) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	cerr := raw.Control(func(fd uintptr) {
		if isIPv6Conn(tc) {
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

func isIPv6Conn(conn *net.TCPConn) bool {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	return ok && addr.IP.To4() == nil
}
