package h2state

import "fmt"

// genFrameHeader serializes an H/2 frame header into the first 9 bytes
// of buf. Payload emission is a follow-on concern of a full frame
// serializer and isn't handled here.
func genFrameHeader(buf []byte, h FrameHeader) (int, error) {
	if len(buf) < frameHeaderSize {
		return 0, fmt.Errorf("h2state: output buffer too small for frame header (need %d, have %d)", frameHeaderSize, len(buf))
	}
	buf[0] = byte(h.PayloadLen >> 16)
	buf[1] = byte(h.PayloadLen >> 8)
	buf[2] = byte(h.PayloadLen)
	buf[3] = byte(h.Type)
	buf[4] = h.Flags
	sid := h.StreamID & 0x7fffffff
	buf[5] = byte(sid >> 24)
	buf[6] = byte(sid >> 16)
	buf[7] = byte(sid >> 8)
	buf[8] = byte(sid)
	return frameHeaderSize, nil
}
