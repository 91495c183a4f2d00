package h2state

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnexpectedFrame is the distinguishable error this implementation
// surfaces instead of the original source's panic!/unimplemented! for
// frames a state does not accept (a non-SETTINGS frame before the
// server preface is sent, or a non-HEADERS frame after). This is still
// connection-fatal and GOAWAY synthesis isn't implemented; the
// difference is that the owning session gets a typed error to log and
// close on, rather than a crashed worker.
var ErrUnexpectedFrame = errors.New("h2state: unexpected frame for current state")

// st is the discrete connection state.
type st int

const (
	stInit st = iota
	stClientPrefaceReceived
	stServerPrefaceSent
)

// State is per-connection H/2 state: the output queue, the current
// discrete state, the I/O readiness interest, and the frame-size ceiling.
// A State is owned by exactly one event-loop worker and touched only
// from that worker's goroutine; it holds no lock.
type State struct {
	output       []OutputFrame
	state        st
	interest     Interest
	MaxFrameSize uint32

	decoder *headerDecoder
	logger  *zap.Logger
	connID  uuid.UUID
	lastErr error
}

// NewState constructs a State in its initial Init state, with a fresh
// HPACK decoder that persists for the life of the connection (one
// decoder per connection, not one per HEADERS frame) and a connection
// id used only to correlate log lines across calls.
func NewState(logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.New()
	return &State{
		state:        stInit,
		interest:     defaultInterest,
		MaxFrameSize: 16384,
		decoder:      newHeaderDecoder(),
		logger:       logger.With(zap.String("conn_id", id.String())),
		connID:       id,
	}
}

// Interest returns the current I/O readiness interest set.
func (s *State) Interest() Interest {
	return s.interest
}

// Err returns the last error recorded by FeedAndHandle (any Feed error,
// ErrIncomplete included) or by Handle (ErrUnexpectedFrame), or nil.
// Feed called on its own records nothing, and a recorded error is not
// cleared by later successful calls. It lets a caller distinguish *why*
// keep_alive went false without changing Feed/Handle/FeedAndHandle's own
// signatures.
func (s *State) Err() error {
	return s.lastErr
}

// Feed performs a best-effort single-frame parse: while in Init it first
// consumes the connection preface and advances to ClientPrefaceReceived,
// then parses one frame from whatever remains using MaxFrameSize as the
// payload ceiling. It returns the number of bytes consumed from the
// head of input and either the parsed frame or an error.
//
// ErrIncomplete means input held fewer bytes than the preface or frame
// currently being parsed requires; the caller should drop the bytes
// reported consumed (a preface consumed before the error is already
// applied), retain the rest of input, and call Feed again once more data
// has arrived. ErrFraming means the bytes present can
// never form a valid preface/frame; the caller must close the
// connection.
func (s *State) Feed(input []byte) (consumed int, frame *Frame, err error) {
	if s.state == stInit {
		n, perr := parsePreface(input)
		if perr != nil {
			if errors.Is(perr, ErrFraming) {
				s.logger.Error("preface error", zap.Error(perr))
			}
			return 0, nil, perr
		}
		consumed += n
		s.state = stClientPrefaceReceived
		input = input[n:]
	}

	f, n, ferr := parseFrame(input, s.MaxFrameSize)
	if ferr != nil {
		if errors.Is(ferr, ErrFraming) {
			s.logger.Error("frame parse error", zap.Error(ferr))
		}
		return consumed, nil, ferr
	}
	consumed += n
	return consumed, f, nil
}

// Handle applies a parsed frame to the state machine and reports whether
// the session should keep feeding bytes.
func (s *State) Handle(frame *Frame) bool {
	switch s.state {
	case stInit:
		// Unreachable in practice: Feed always advances out of Init before
		// returning a frame. Kept for parity with the original source,
		// which treats this case as a trivial success.
		return true

	case stClientPrefaceReceived:
		if frame.Header.Type != FrameSettings {
			s.lastErr = ErrUnexpectedFrame
			s.logger.Error("unexpected frame before SETTINGS",
				zap.String("frame_type", frame.Header.Type.String()))
			return false
		}
		s.output = append(s.output, OutputFrame{
			Header: FrameHeader{
				PayloadLen: 0,
				Type:       FrameSettings,
				Flags:      FlagACK,
				StreamID:   0,
			},
		})
		s.state = stServerPrefaceSent
		s.interest = s.interest.Union(Writable)
		return true

	case stServerPrefaceSent:
		if frame.Header.Type != FrameHeaders {
			s.lastErr = ErrUnexpectedFrame
			s.logger.Error("unexpected frame after server preface",
				zap.String("frame_type", frame.Header.Type.String()))
			return false
		}
		fields, derr := s.decoder.decode(frame.HeaderBlockFragment())
		if derr != nil {
			// Lenient: a decode error is logged and the HEADERS frame is
			// effectively ignored; the connection continues.
			s.logger.Error("hpack decode error", zap.Error(derr))
		} else {
			for _, f := range fields {
				s.logger.Debug("decoded header", zap.String("name", f.Name), zap.String("value", f.Value))
			}
		}
		// Response plumbing doesn't exist yet; stop feeding until it does.
		return false

	default:
		return false
	}
}

// FeedAndHandle composes Feed and Handle. On ErrIncomplete, keep_alive
// stays true: the connection is healthy, it just hasn't delivered a
// full frame yet. On ErrFraming, keep_alive is false and the caller
// must close the connection.
func (s *State) FeedAndHandle(input []byte) (consumed int, keepAlive bool) {
	consumed, frame, err := s.Feed(input)
	if err != nil {
		s.lastErr = err
		if errors.Is(err, ErrIncomplete) {
			return consumed, true
		}
		return consumed, false
	}
	return consumed, s.Handle(frame)
}

// Emit serializes the header of the front-queued OutputFrame into
// output and returns the number of bytes written. Payload emission is a
// follow-on concern of a full serializer, out of scope here. If the
// queue is empty, Emit clears the Writable interest and returns 0.
func (s *State) Emit(output []byte) (int, error) {
	if len(s.output) == 0 {
		s.interest = s.interest.Difference(Writable)
		return 0, nil
	}
	front := s.output[0]
	n, err := genFrameHeader(output, front.Header)
	if err != nil {
		return 0, err
	}
	s.output = s.output[1:]
	if len(s.output) == 0 {
		s.interest = s.interest.Difference(Writable)
	}
	return n, nil
}

// QueueLen reports the number of OutputFrames currently queued. Useful
// for tests and for a caller deciding how many times to call Emit.
func (s *State) QueueLen() int {
	return len(s.output)
}
