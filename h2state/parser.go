package h2state

import (
	"bytes"
	"errors"
)

// ErrFraming is returned when input bytes cannot possibly form a valid
// preface or frame: a mismatched preface, or a frame whose declared
// payload length exceeds the configured max frame size. The owning
// session must close the connection on this error.
var ErrFraming = errors.New("h2state: framing error")

// ErrIncomplete is returned when input holds fewer bytes than the
// preface or the frame currently being parsed requires. It is not
// fatal: the caller is expected to retain input and call again once
// more bytes have arrived. This is distinct from ErrFraming, which
// signals genuinely malformed input.
var ErrIncomplete = errors.New("h2state: incomplete input")

// preface is the fixed 24-byte connection preface every H/2 client
// sends before any frames.
var preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

const frameHeaderSize = 9

// parsePreface consumes the connection preface from the head of input.
// Returns the number of bytes consumed (0 on any error) and an error:
// ErrIncomplete if fewer than len(preface) bytes are available,
// ErrFraming if the bytes present don't match.
func parsePreface(input []byte) (consumed int, err error) {
	if len(input) < len(preface) {
		if !bytes.HasPrefix(preface, input) {
			return 0, ErrFraming
		}
		return 0, ErrIncomplete
	}
	if !bytes.Equal(input[:len(preface)], preface) {
		return 0, ErrFraming
	}
	return len(preface), nil
}

// parseFrame parses exactly one frame from the head of input, using
// maxFrameSize as the upper bound on the declared payload length. It
// never consumes bytes past the frame it returns.
func parseFrame(input []byte, maxFrameSize uint32) (frame *Frame, consumed int, err error) {
	if len(input) < frameHeaderSize {
		return nil, 0, ErrIncomplete
	}

	payloadLen := uint32(input[0])<<16 | uint32(input[1])<<8 | uint32(input[2])
	if payloadLen > maxFrameSize {
		return nil, 0, ErrFraming
	}
	frameType := FrameType(input[3])
	flags := input[4]
	streamID := (uint32(input[5])<<24 | uint32(input[6])<<16 | uint32(input[7])<<8 | uint32(input[8])) & 0x7fffffff

	total := frameHeaderSize + int(payloadLen)
	if len(input) < total {
		return nil, 0, ErrIncomplete
	}

	var payload []byte
	if payloadLen > 0 {
		payload = append([]byte(nil), input[frameHeaderSize:total]...)
	}

	return &Frame{
		Header: FrameHeader{
			PayloadLen: payloadLen,
			Type:       frameType,
			Flags:      flags,
			StreamID:   streamID,
		},
		Payload: payload,
	}, total, nil
}
