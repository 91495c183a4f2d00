package h2state

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsFrameBytes() []byte {
	return []byte{0, 0, 0, byte(FrameSettings), 0, 0, 0, 0, 0}
}

func TestParsePreface_Exact(t *testing.T) {
	consumed, err := parsePreface(preface)
	require.NoError(t, err)
	assert.Equal(t, len(preface), consumed)
}

func TestParsePreface_Incomplete(t *testing.T) {
	_, err := parsePreface(preface[:len(preface)-1])
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestParsePreface_Mismatch(t *testing.T) {
	bad := append([]byte(nil), preface...)
	bad[0] = 'X'
	_, err := parsePreface(bad)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestParseFrame_EmptySettings(t *testing.T) {
	input := settingsFrameBytes()
	frame, consumed, err := parseFrame(input, 16384)
	require.NoError(t, err)
	assert.Equal(t, len(input), consumed)
	assert.Equal(t, FrameSettings, frame.Header.Type)
	assert.Equal(t, uint32(0), frame.Header.PayloadLen)
	assert.Equal(t, uint32(0), frame.Header.StreamID)
}

func TestParseFrame_HeaderOnlyIncomplete(t *testing.T) {
	_, _, err := parseFrame(settingsFrameBytes()[:5], 16384)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestParseFrame_PayloadIncomplete(t *testing.T) {
	input := []byte{0, 0, 5, byte(FrameHeaders), 0, 0, 0, 0, 1, 'a', 'b'}
	_, _, err := parseFrame(input, 16384)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestParseFrame_OversizedPayloadIsFraming(t *testing.T) {
	input := []byte{0xFF, 0xFF, 0xFF, byte(FrameData), 0, 0, 0, 0, 0}
	_, _, err := parseFrame(input, 16384)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestParseFrame_StreamIDMasksReservedBit(t *testing.T) {
	input := []byte{0, 0, 0, byte(FrameSettings), 0, 0x80, 0, 0, 5}
	frame, _, err := parseFrame(input, 16384)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), frame.Header.StreamID)
}

// Two back-to-back frames in one buffer: the first call stops exactly at
// its frame boundary, and a second call on the remainder parses the next
// frame with the same header.
func TestParseFrame_SplitInputMatchesWhole(t *testing.T) {
	whole := append(settingsFrameBytes(), settingsFrameBytes()...)

	frame1, c1, err := parseFrame(whole, 16384)
	require.NoError(t, err)
	frame2, c2, err := parseFrame(whole[c1:], 16384)
	require.NoError(t, err)

	assert.Equal(t, len(settingsFrameBytes()), c1)
	assert.Equal(t, len(settingsFrameBytes()), c2)
	assert.Equal(t, frame1.Header, frame2.Header)
}

func TestGenFrameHeader_RoundTrips(t *testing.T) {
	h := FrameHeader{PayloadLen: 10, Type: FrameHeaders, Flags: FlagACK, StreamID: 7}
	buf := make([]byte, 9)
	n, err := genFrameHeader(buf, h)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	frame, consumed, err := parseFrame(append(buf, make([]byte, 10)...), 16384)
	require.NoError(t, err)
	assert.Equal(t, 19, consumed)
	assert.Equal(t, h, frame.Header)
}

func TestGenFrameHeader_BufferTooSmall(t *testing.T) {
	buf := make([]byte, 4)
	_, err := genFrameHeader(buf, FrameHeader{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFraming))
}

func TestGenFrameHeader_EmptySettingsACKLiteral(t *testing.T) {
	h := FrameHeader{PayloadLen: 0, Type: FrameSettings, Flags: 1, StreamID: 0}
	buf := make([]byte, 9)
	_, err := genFrameHeader(buf, h)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(buf, []byte{0, 0, 0, byte(FrameSettings), 1, 0, 0, 0, 0}))
}
