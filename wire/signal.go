package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// SignalType is the 4-byte discriminant at the head of every control frame
// payload (spec §6). The set of kinds is closed and small, so a tagged
// union with an exhaustive switch is used instead of interface-based
// dynamic dispatch (spec §9).
type SignalType uint32

// Signal kinds, matching the wire values in spec §6.
const (
	SignalUserData SignalType = iota
	SignalFlowStart
	SignalRateAdjustment
	SignalFlowFinish
	SignalRetransmitRequest
	SignalStopRequest
	SignalStopConfirm
)

func (t SignalType) String() string {
	switch t {
	case SignalUserData:
		return "UserData"
	case SignalFlowStart:
		return "FlowStart"
	case SignalRateAdjustment:
		return "RateAdjustment"
	case SignalFlowFinish:
		return "FlowFinish"
	case SignalRetransmitRequest:
		return "RetransmitRequest"
	case SignalStopRequest:
		return "StopRequest"
	case SignalStopConfirm:
		return "StopConfirm"
	default:
		return fmt.Sprintf("SignalType(%d)", uint32(t))
	}
}

// ErrUnknownSignal is returned when a frame's discriminant does not match
// any known SignalType.
var ErrUnknownSignal = errors.New("wire: unknown signal type")

// lengthPrefixSize is the size of the u32 length prefix in front of every
// control frame (spec §6).
const lengthPrefixSize = 4

// typeTagSize is the size of the SignalType discriminant at the front of
// every frame payload.
const typeTagSize = 4

// FlowStart is the FlowStart(1) payload.
type FlowStart struct {
	MsgID      int32
	FlowSize   uint32
	MaxSeqNum  uint32
}

// FlowFinish is the FlowFinish(3) payload.
type FlowFinish struct {
	MsgID int32
}

// RateAdjustment is the RateAdjustment(2) payload.
type RateAdjustment struct {
	SendingRate float32
}

// RetransmitRequest is the RetransmitRequest(4) payload.
type RetransmitRequest struct {
	MsgID     int32
	CommID    int32
	NumBlocks uint32
	Blocks    []Block
}

// StopRequest is the StopRequest(5) payload.
type StopRequest struct {
	MsgID       int32
	CommID      int32
	SendingRate float32
}

// StopConfirm is the StopConfirm(6) payload.
type StopConfirm struct {
	MsgID int32
}

// FrameLen returns the number of bytes the length prefix will carry for a
// payload of n bytes: the type tag plus the payload itself.
func FrameLen(payloadLen int) uint32 {
	return uint32(typeTagSize + payloadLen)
}

// EncodeUserData frames an opaque UserData(0) payload with its length prefix.
func EncodeUserData(data []byte) []byte {
	buf := make([]byte, lengthPrefixSize+typeTagSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], FrameLen(len(data)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(SignalUserData))
	copy(buf[8:], data)
	return buf
}

// EncodeFlowStart frames a FlowStart(1) signal.
func EncodeFlowStart(s FlowStart) []byte {
	const payloadLen = 4 + 4 + 4
	buf := make([]byte, lengthPrefixSize+typeTagSize+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], FrameLen(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(SignalFlowStart))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.MsgID))
	binary.LittleEndian.PutUint32(buf[12:16], s.FlowSize)
	binary.LittleEndian.PutUint32(buf[16:20], s.MaxSeqNum)
	return buf
}

// EncodeFlowFinish frames a FlowFinish(3) signal.
func EncodeFlowFinish(s FlowFinish) []byte {
	const payloadLen = 4
	buf := make([]byte, lengthPrefixSize+typeTagSize+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], FrameLen(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(SignalFlowFinish))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.MsgID))
	return buf
}

// EncodeRateAdjustment frames a RateAdjustment(2) signal.
func EncodeRateAdjustment(s RateAdjustment) []byte {
	const payloadLen = 4
	buf := make([]byte, lengthPrefixSize+typeTagSize+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], FrameLen(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(SignalRateAdjustment))
	binary.LittleEndian.PutUint32(buf[8:12], float32bits(s.SendingRate))
	return buf
}

// EncodeRetransmitRequest frames a RetransmitRequest(4) signal, including
// its variable-length Block array.
func EncodeRetransmitRequest(s RetransmitRequest) []byte {
	payloadLen := 4 + 4 + 4 + len(s.Blocks)*BlockSize
	buf := make([]byte, lengthPrefixSize+typeTagSize+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], FrameLen(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(SignalRetransmitRequest))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.MsgID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(s.CommID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(s.Blocks)))
	PutBlocks(buf[20:], s.Blocks)
	return buf
}

// EncodeStopRequest frames a StopRequest(5) signal.
func EncodeStopRequest(s StopRequest) []byte {
	const payloadLen = 4 + 4 + 4
	buf := make([]byte, lengthPrefixSize+typeTagSize+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], FrameLen(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(SignalStopRequest))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.MsgID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(s.CommID))
	binary.LittleEndian.PutUint32(buf[16:20], float32bits(s.SendingRate))
	return buf
}

// EncodeStopConfirm frames a StopConfirm(6) signal.
func EncodeStopConfirm(s StopConfirm) []byte {
	const payloadLen = 4
	buf := make([]byte, lengthPrefixSize+typeTagSize+payloadLen)
	binary.LittleEndian.PutUint32(buf[0:4], FrameLen(payloadLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(SignalStopConfirm))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(s.MsgID))
	return buf
}

// Frame is a decoded control frame: its type and the raw payload bytes
// following the 4-byte type tag.
type Frame struct {
	Type    SignalType
	Payload []byte
}

// DecodeFrame splits a frame's payload (everything after the length prefix,
// exactly FrameLen(...) bytes) into its SignalType and remaining payload.
func DecodeFrame(framePayload []byte) (Frame, error) {
	if len(framePayload) < typeTagSize {
		return Frame{}, ErrShortFrame
	}
	t := SignalType(binary.LittleEndian.Uint32(framePayload[0:4]))
	return Frame{Type: t, Payload: framePayload[typeTagSize:]}, nil
}

// DecodeFlowStart parses a FlowStart payload (as returned in Frame.Payload).
func DecodeFlowStart(p []byte) (FlowStart, error) {
	if len(p) < 12 {
		return FlowStart{}, ErrShortFrame
	}
	return FlowStart{
		MsgID:     int32(binary.LittleEndian.Uint32(p[0:4])),
		FlowSize:  binary.LittleEndian.Uint32(p[4:8]),
		MaxSeqNum: binary.LittleEndian.Uint32(p[8:12]),
	}, nil
}

// DecodeFlowFinish parses a FlowFinish payload.
func DecodeFlowFinish(p []byte) (FlowFinish, error) {
	if len(p) < 4 {
		return FlowFinish{}, ErrShortFrame
	}
	return FlowFinish{MsgID: int32(binary.LittleEndian.Uint32(p[0:4]))}, nil
}

// DecodeRateAdjustment parses a RateAdjustment payload.
func DecodeRateAdjustment(p []byte) (RateAdjustment, error) {
	if len(p) < 4 {
		return RateAdjustment{}, ErrShortFrame
	}
	return RateAdjustment{SendingRate: float32frombits(binary.LittleEndian.Uint32(p[0:4]))}, nil
}

// DecodeRetransmitRequest parses a RetransmitRequest payload.
func DecodeRetransmitRequest(p []byte) (RetransmitRequest, error) {
	if len(p) < 12 {
		return RetransmitRequest{}, ErrShortFrame
	}
	numBlocks := binary.LittleEndian.Uint32(p[8:12])
	need := 12 + int(numBlocks)*BlockSize
	if len(p) < need {
		return RetransmitRequest{}, ErrShortFrame
	}
	return RetransmitRequest{
		MsgID:     int32(binary.LittleEndian.Uint32(p[0:4])),
		CommID:    int32(binary.LittleEndian.Uint32(p[4:8])),
		NumBlocks: numBlocks,
		Blocks:    ParseBlocks(p[12:], int(numBlocks)),
	}, nil
}

// DecodeStopRequest parses a StopRequest payload.
func DecodeStopRequest(p []byte) (StopRequest, error) {
	if len(p) < 12 {
		return StopRequest{}, ErrShortFrame
	}
	return StopRequest{
		MsgID:       int32(binary.LittleEndian.Uint32(p[0:4])),
		CommID:      int32(binary.LittleEndian.Uint32(p[4:8])),
		SendingRate: float32frombits(binary.LittleEndian.Uint32(p[8:12])),
	}, nil
}

// DecodeStopConfirm parses a StopConfirm payload.
func DecodeStopConfirm(p []byte) (StopConfirm, error) {
	if len(p) < 4 {
		return StopConfirm{}, ErrShortFrame
	}
	return StopConfirm{MsgID: int32(binary.LittleEndian.Uint32(p[0:4]))}, nil
}
