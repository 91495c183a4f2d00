package h2state

import (
	"golang.org/x/net/http2/hpack"
)

// headerDecoder wraps a single hpack.Decoder for the lifetime of a
// connection. Constructing a fresh decoder per HEADERS frame would lose
// the dynamic table across frames, which breaks real-world H/2 clients
// that rely on it; this is fixed by keeping one decoder per State,
// constructed once in newHeaderDecoder and reused by every call to
// decode.
type headerDecoder struct {
	fields  []hpack.HeaderField
	decoder *hpack.Decoder
}

func newHeaderDecoder() *headerDecoder {
	hd := &headerDecoder{}
	hd.decoder = hpack.NewDecoder(4096, func(f hpack.HeaderField) {
		hd.fields = append(hd.fields, f)
	})
	return hd
}

// decode feeds a HEADERS frame's header block fragment through the
// persistent decoder and returns the name/value pairs it emitted.
func (hd *headerDecoder) decode(block []byte) ([]hpack.HeaderField, error) {
	hd.fields = hd.fields[:0]
	if _, err := hd.decoder.Write(block); err != nil {
		return nil, err
	}
	out := make([]hpack.HeaderField, len(hd.fields))
	copy(out, hd.fields)
	return out, nil
}
