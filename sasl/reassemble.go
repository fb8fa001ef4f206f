package sasl

import (
	"encoding/base64"
	"errors"
)

// ErrOversize is returned when a reassembled, still-encoded buffer
// would exceed MaxEncoded.
var ErrOversize = errors.New("sasl: accumulated payload exceeds the maximum encoded size")

// ErrMalformed is returned when a complete buffer fails to base64-decode.
var ErrMalformed = errors.New("sasl: payload does not base64-decode")

// reassembler accumulates inbound AUTHENTICATE fragments into a single
// base64 buffer and, once the buffer is complete, decodes it. It holds
// no more state than the buffer itself, so the Session can clear it by
// simply dropping the reassembler.
//
// See spec §4.2: a fragment of exactly ChunkSize bytes is never final.
// "+" either terminates an in-progress buffer or, with no buffer
// present, denotes an empty initial challenge.
type reassembler struct {
	buf []byte
	has bool
}

// feed processes one inbound fragment. more is true if additional
// fragments are still expected. done is set (with decoded possibly
// empty) once the buffer is complete. err is non-nil only for a
// framing failure (oversize or invalid base64); in that case the
// reassembler's buffer has already been cleared.
func (r *reassembler) feed(fragment string) (decoded []byte, done bool, more bool, err error) {
	if fragment == "+" && r.has {
		// the "+" is a pure terminator; the buffered bytes are complete.
	} else if r.has {
		r.buf = append(r.buf, fragment...)
	} else {
		r.buf = []byte(fragment)
		r.has = true
	}

	if len(r.buf) > MaxEncoded {
		r.reset()
		return nil, false, false, ErrOversize
	}

	if fragment != "+" && len(fragment) == ChunkSize {
		// not final: retain the buffer and wait for more.
		return nil, false, true, nil
	}

	// buffer is complete.
	defer r.reset()

	if len(r.buf) == 1 && r.buf[0] == '+' {
		return []byte{}, true, false, nil
	}

	decoded = make([]byte, base64.StdEncoding.DecodedLen(len(r.buf)))
	n, err := base64.StdEncoding.Decode(decoded, r.buf)
	if err != nil {
		return nil, false, false, ErrMalformed
	}
	return decoded[:n], true, false, nil
}

func (r *reassembler) reset() {
	r.buf = nil
	r.has = false
}
