package reliable

import (
	"encoding/binary"
	"io"
	"net"
)

// SendCommID writes the local comm_id as the 4-byte handshake spec §4.7
// and §6 require immediately after connect/accept.
func SendCommID(conn net.Conn, commID int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(commID))
	_, err := conn.Write(buf[:])
	return err
}

// ReadCommID blocks for the 4-byte peer comm_id that opens every connection.
func ReadCommID(conn net.Conn) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}
