package sasl

import "errors"

// state is one of the three states spec §4.1 names. It is unexported;
// callers only ever observe terminal outcomes through Emitter.
type state int

const (
	idle state = iota
	awaitingChallenge
	terminated
)

// ErrDisconnected names a connection lost mid-exchange. No Session
// method returns it and it is never surfaced through Emitter (spec
// §4.5: disconnect is silent); a Session that Disconnect was called on
// ignores further events because it is in the terminated state.
var ErrDisconnected = errors.New("sasl: session disconnected")

// TimeoutReason and MalformedReason are the exact strings Session
// passes to Emitter.EmitFailure for the two abort paths, exported so a
// caller (or a Metrics/Audit collaborator layered on top of Emitter)
// can tell a client-side abort apart from a server-reported failure
// without string-matching on an undocumented literal.
const (
	TimeoutReason   = "The authentication timed out"
	MalformedReason = "The server sent an invalid payload"
)

// Session drives a single SASL exchange for one server connection. It
// is created once the sasl capability has been ACKed and is discarded
// once it reaches a terminal state or the connection drops; it is not
// safe to reuse across reconnects.
//
// A Session is not safe for concurrent use. Every method call, and
// every Timer callback registered by it, must be serialized onto the
// same event loop that delivers the server's IRC events — see spec §5.
type Session struct {
	mech  Mechanism
	cred  Credentials
	state state

	transport Transport
	cap       CapFinisher
	emit      Emitter
	timer     Timer

	reasm       reassembler
	timerHandle any
	hasTimer    bool
}

// NewSession constructs a Session for mech, bound to its collaborators.
// cred is only consulted for Plain; pass a zero Credentials for
// External.
func NewSession(mech Mechanism, cred Credentials, transport Transport, cap CapFinisher, emit Emitter, timer Timer) *Session {
	return &Session{
		mech:      mech,
		cred:      cred,
		state:     idle,
		transport: transport,
		cap:       cap,
		emit:      emit,
		timer:     timer,
	}
}

// Start handles StartRequested: the server has ACKed the sasl
// capability. It sends the initial AUTHENTICATE <mechanism> line and
// arms the attempt timer.
func (s *Session) Start() {
	if s.state != idle {
		return
	}

	s.transport.SendLineImmediate("AUTHENTICATE " + s.mech.String())
	s.armTimer()
	s.state = awaitingChallenge
}

// Challenge handles an inbound AUTHENTICATE fragment. fragment is the
// raw parameter following the AUTHENTICATE command, including the
// literal "+" case.
func (s *Session) Challenge(fragment string) {
	if s.state != awaitingChallenge {
		return
	}
	s.cancelTimer()

	decoded, _, more, err := s.reasm.feed(fragment)
	if err != nil {
		s.abort(MalformedReason)
		return
	}
	if more {
		// mid-fragment: re-arm so a stalled peer can't hold the
		// session open indefinitely waiting for the rest.
		s.armTimer()
		return
	}
	resp := response(s.mech, s.cred, decoded)
	for _, line := range encodeResponse(resp) {
		s.transport.SendLineImmediate(line)
	}
	s.armTimer()
}

// Numeric handles one of the terminal numerics defined in spec §4.1:
// 902/904/905/906 (failure, errorText is the server's second
// parameter), 903 (success), 907 (already-authenticated, treated as
// success per spec's Open Questions).
func (s *Session) Numeric(code int, errorText string) {
	if s.state != awaitingChallenge {
		return
	}
	s.cancelTimer()

	switch code {
	case 903, 907:
		s.succeed()
	case 902, 904, 905, 906:
		s.fail(errorText)
	}
}

// TimerFired handles the attempt timer expiring with no server
// response. It is only ever invoked by the Timer collaborator calling
// back the function given to Schedule; a handle from a prior,
// already-canceled arm must never reach here (see timer.go).
func (s *Session) TimerFired() {
	if s.state != awaitingChallenge {
		return
	}
	s.hasTimer = false
	s.abort(TimeoutReason)
}

// Disconnect releases the Session's resources without emitting an
// outcome (spec §4.5: disconnect during flight is silent). It is safe
// to call from any state, including Terminated and Idle.
func (s *Session) Disconnect() {
	s.cancelTimer()
	s.reasm.reset()
	s.state = terminated
}

func (s *Session) succeed() {
	s.reasm.reset()
	s.state = terminated
	s.emit.EmitSuccess()
	s.cap.FinishCap()
}

func (s *Session) fail(reason string) {
	s.reasm.reset()
	s.state = terminated
	s.emit.EmitFailure(reason)
	s.cap.FinishCap()
}

// abort is fail's sibling for the two paths (timeout, reassembly
// failure) that must also tell the server we're giving up.
func (s *Session) abort(reason string) {
	s.transport.SendLineImmediate("AUTHENTICATE *")
	s.reasm.reset()
	s.state = terminated
	s.emit.EmitFailure(reason)
	s.cap.FinishCap()
}

func (s *Session) armTimer() {
	s.cancelTimer()
	s.timerHandle = s.timer.Schedule(Timeout, s.TimerFired)
	s.hasTimer = true
}

func (s *Session) cancelTimer() {
	if !s.hasTimer {
		return
	}
	s.timer.Cancel(s.timerHandle)
	s.hasTimer = false
	s.timerHandle = nil
}
