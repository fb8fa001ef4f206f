// Package sasl implements the client side of the IRCv3 SASL 3.1
// AUTHENTICATE sub-protocol: https://ircv3.net/specs/extensions/sasl-3.1.html
//
// The package owns exactly one concern: driving a single SASL exchange
// for one server connection from the moment the sasl capability is
// acknowledged until the exchange succeeds, fails, or the connection
// drops. It does not negotiate capabilities, frame IRC lines off the
// wire, or store credentials; those are supplied by the collaborator
// interfaces below.
package sasl

import "time"

// Mechanism selects which SASL authentication method a Session drives.
// Only PLAIN and EXTERNAL are supported; negotiating a different
// mechanism, or speaking a challenge/response mechanism such as
// SCRAM, is out of scope for this core.
type Mechanism int

const (
	Plain Mechanism = iota
	External
)

func (m Mechanism) String() string {
	switch m {
	case Plain:
		return "PLAIN"
	case External:
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}

const (
	// ChunkSize is the maximum number of bytes of base64 carried by a
	// single AUTHENTICATE line. A fragment of exactly this length is
	// never final; the peer must follow it with another fragment or
	// the "+" terminator.
	ChunkSize = 400

	// MaxEncoded bounds the total size of a reassembled, still-encoded
	// payload. A buffer that would grow past this is an oversize error.
	MaxEncoded = 8192

	// Timeout is how long the Session waits for a server response
	// after sending something, before declaring the attempt timed out.
	Timeout = 20 * time.Second
)

// Transport is the immediate-send path for AUTHENTICATE lines. Sends
// made through it must bypass any outbound queue so that AUTHENTICATE
// traffic is never interleaved with other commands the surrounding
// application enqueues.
type Transport interface {
	SendLineImmediate(line string)
}

// CapFinisher concludes IRCv3 capability negotiation once the SASL
// exchange has reached a terminal state.
type CapFinisher interface {
	FinishCap()
}

// Emitter reports the terminal outcome of a SASL exchange. Exactly one
// of Success or Failure is called at most once per Session, except
// when the connection is dropped mid-exchange, in which case neither
// is called.
type Emitter interface {
	EmitSuccess()
	EmitFailure(reason string)
}

// Timer schedules and cancels the single outstanding per-attempt
// timeout. Cancel on an already-fired or already-canceled handle must
// be a no-op.
type Timer interface {
	Schedule(d time.Duration, callback func()) (handle any)
	Cancel(handle any)
}

// Credentials holds the read-only material a Session needs to answer
// a challenge. The core never mutates these and never stores them
// outside the Session that owns them.
type Credentials struct {
	Username string
	Password string
}
