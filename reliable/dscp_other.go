//go:build !linux

package reliable

import "net"

// SetDSCP is a no-op outside Linux: ToS/DSCP marking is exercised by the
// reliable channel but not required for the control socket to function.
func SetDSCP(conn net.Conn, tos uint8) error {
	return nil
}
