//go:build !linux

package udpendpoint

import (
	"net"

	"github.com/mlt-io/mlt/wire"
)

// setToS is a no-op outside Linux: ToS/DSCP marking is exercised by the
// datapath but not required for the endpoint to function.
func setToS(conn *net.UDPConn, tos uint8) error {
	return nil
}

// sendOne copies header and payload into one buffer and sends it with the
// portable net.UDPConn API.
func sendOne(conn *net.UDPConn, dest *net.UDPAddr, header wire.Header, grad []byte) error {
	buf := make([]byte, wire.HeaderSize+len(grad))
	wire.PutHeader(buf, header)
	copy(buf[wire.HeaderSize:], grad)
	_, err := conn.WriteToUDP(buf, dest)
	return err
}
