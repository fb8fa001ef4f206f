// Package client wires the sasl core to a real server connection: it
// owns the read loop, turns raw IRC lines into the Challenge/Numeric
// events the core expects, and supplies the Transport/CapFinisher/
// Timer/Emitter collaborators sasl.Session needs.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mitchr/gossip-sasl/audit"
	"github.com/mitchr/gossip-sasl/capnego"
	"github.com/mitchr/gossip-sasl/metrics"
	"github.com/mitchr/gossip-sasl/sasl"
	"github.com/mitchr/gossip-sasl/scan/msg"
	"github.com/mitchr/gossip-sasl/timer"
	"github.com/mitchr/gossip-sasl/transport"
)

// failureNumerics are the numerics spec §4.1 treats as terminal
// failures; successNumerics are the two treated as success (903, and
// 907 for "already authenticated", per spec's Open Questions).
var failureNumerics = map[int]bool{902: true, 904: true, 905: true, 906: true}
var successNumerics = map[int]bool{903: true, 907: true}

// Profile is the per-connection configuration a caller supplies
// before dialing: which mechanism to drive, and (for Plain) the
// credentials to answer a challenge with.
type Profile struct {
	Mechanism sasl.Mechanism
	Cred      sasl.Credentials
}

// Outcome is reported once, after a SASL attempt reaches a terminal
// state, via the OnOutcome hook. Reason is empty on success.
type Outcome struct {
	Success bool
	Reason  string
}

// Client owns one connection to one IRC server and the SASL exchange
// over it.
type Client struct {
	conn  *transport.Conn
	cap   *capnego.Negotiator
	timer *timer.Service
	sess  *sasl.Session

	server  string
	profile Profile
	log     zerolog.Logger
	started time.Time

	// Metrics, if set, receives counts and latencies for every
	// terminal outcome. Nil is a valid, metrics-free Client.
	Metrics *metrics.Collector

	// Audit, if set, receives a durable record of every terminal
	// outcome, keyed by Server. Nil disables auditing.
	Audit *audit.Log

	// OnOutcome, if set, is called exactly once when the SASL exchange
	// reaches a terminal state that emitted an outcome (disconnect is
	// silent and does not call it, matching sasl's own Emitter
	// contract).
	OnOutcome func(Outcome)
}

// Dial connects to addr (host:port) and wraps the connection, upgrading
// to TLS first when tlsConfig is non-nil. addr is also used to label
// Metrics and Audit records.
func Dial(addr string, tlsConfig *tls.Config, profile Profile, log zerolog.Logger) (*Client, error) {
	var conn net.Conn
	var err error
	if tlsConfig != nil {
		conn, err = tls.Dial("tcp", addr, tlsConfig)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	return New(conn, addr, profile, log), nil
}

// New wraps an already-established connection. Exported so tests and
// callers that manage their own net.Conn (net.Pipe, a mock listener)
// can construct a Client without a real dial. server labels Metrics
// and Audit records and need not match conn's remote address.
func New(conn net.Conn, server string, profile Profile, log zerolog.Logger) *Client {
	t := transport.New(conn)
	c := &Client{
		conn:    t,
		cap:     capnego.New(t),
		timer:   timer.New(),
		server:  server,
		profile: profile,
		log:     log.With().Str("component", "sasl-client").Str("server", server).Logger(),
	}
	return c
}

// Negotiate kicks off capability negotiation by requesting the
// server's capability list. RequestSASL is called automatically once
// CAP LS confirms sasl is offered.
func (c *Client) Negotiate() { c.conn.SendLineImmediate("CAP LS 302") }

// RequestSASL sends CAP REQ for the sasl capability. Call this
// directly to skip CAP LS discovery when the caller already knows
// the server offers sasl.
func (c *Client) RequestSASL() { c.cap.Request(capnego.SASL) }

// EmitSuccess implements sasl.Emitter.
func (c *Client) EmitSuccess() {
	mech := c.profile.Mechanism.String()
	c.log.Info().Str("mechanism", mech).Msg("sasl authentication succeeded")
	c.recordOutcome(true, "")
	if c.OnOutcome != nil {
		c.OnOutcome(Outcome{Success: true})
	}
}

// EmitFailure implements sasl.Emitter.
func (c *Client) EmitFailure(reason string) {
	mech := c.profile.Mechanism.String()
	c.log.Warn().Str("mechanism", mech).Str("reason", reason).Msg("sasl authentication failed")
	c.recordOutcome(false, reason)
	if c.OnOutcome != nil {
		c.OnOutcome(Outcome{Success: false, Reason: reason})
	}
}

// recordOutcome fans a terminal outcome out to Metrics and Audit, if
// configured. Both sasl.TimeoutReason and sasl.MalformedReason are
// sasl.Session's own wording for client-side aborts, so they can be
// told apart from a server-reported failure without sasl exporting a
// separate event.
func (c *Client) recordOutcome(success bool, reason string) {
	mech := c.profile.Mechanism.String()
	elapsed := time.Duration(0)
	if !c.started.IsZero() {
		elapsed = time.Since(c.started)
	}

	if c.Metrics != nil {
		switch {
		case success:
			c.Metrics.Succeeded(c.server, mech, elapsed)
		case reason == sasl.TimeoutReason:
			c.Metrics.TimedOut(c.server, mech, elapsed)
		case reason == sasl.MalformedReason:
			c.Metrics.OversizeChallenge(c.server, mech)
			c.Metrics.Failed(c.server, mech, reason, elapsed)
		default:
			c.Metrics.Failed(c.server, mech, reason, elapsed)
		}
	}

	if c.Audit != nil {
		c.Audit.Record(context.Background(), audit.Attempt{
			Server:    c.server,
			Mechanism: mech,
			Success:   success,
			Reason:    reason,
		})
	}
}

// ReadLine reads one raw line from the underlying connection, blocking
// until a full line, including its CRLF terminator, arrives (the form
// HandleLine expects). Callers drive their own
// read loop and feed each line to HandleLine.
func (c *Client) ReadLine() ([]byte, error) { return c.conn.ReadLine() }

// HandleLine feeds one raw, CRLF-terminated IRC line from the server
// into capability negotiation and, once started, the SASL session.
// It is the single dispatch point a caller's read loop should drive.
func (c *Client) HandleLine(raw []byte) error {
	m, err := msg.ParseLine(raw)
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping unparseable line")
		return nil
	}

	switch m.Command {
	case "CAP":
		c.handleCap(m)
	case "AUTHENTICATE":
		if c.sess != nil && len(m.Params) > 0 {
			c.sess.Challenge(m.Params[0])
		}
	default:
		if code, ok := numericCode(m.Command); ok {
			c.handleNumeric(code, m)
		}
	}
	return nil
}

func (c *Client) handleCap(m *msg.Message) {
	if len(m.Params) < 2 {
		return
	}
	switch m.Params[1] {
	case "LS":
		names := splitCapNames(m.Params[2:])
		for _, n := range names {
			// CAP LS 302 may report a capability's values after "=";
			// we only need to know sasl is offered, not which
			// mechanisms the server advertises, since Profile already
			// picked one.
			name, _, _ := strings.Cut(n, "=")
			if name == capnego.SASL.Name {
				c.RequestSASL()
				return
			}
		}
	case "ACK":
		names := splitCapNames(m.Params[2:])
		if c.cap.Ack(names) {
			c.startSASL()
		}
	}
}

func (c *Client) startSASL() {
	c.started = time.Now()
	if c.Metrics != nil {
		c.Metrics.AttemptStarted(c.server, c.profile.Mechanism.String())
	}
	c.sess = sasl.NewSession(c.profile.Mechanism, c.profile.Cred, c.conn, c.cap, c, c.timer)
	c.sess.Start()
}

func (c *Client) handleNumeric(code int, m *msg.Message) {
	if c.sess == nil {
		return
	}
	switch {
	case successNumerics[code]:
		c.sess.Numeric(code, "")
	case failureNumerics[code]:
		reason := ""
		if len(m.Params) >= 2 {
			reason = m.Params[len(m.Params)-1]
		}
		c.sess.Numeric(code, reason)
	}
}

// Disconnect tells an in-flight SASL session (if any) that the
// connection is gone, per spec §4.1's any-state Disconnected
// transition, and closes the underlying connection.
func (c *Client) Disconnect() {
	if c.sess != nil {
		c.sess.Disconnect()
	}
	c.conn.Close()
}

func numericCode(command string) (int, bool) {
	if len(command) != 3 {
		return 0, false
	}
	n, err := strconv.Atoi(command)
	if err != nil {
		return 0, false
	}
	return n, true
}

// splitCapNames turns the trailing params of a CAP ACK line
// ("sasl" as a single trailing param, possibly space-separated inside
// it per the multiline CAP extension) into individual capability
// names.
func splitCapNames(params []string) []string {
	if len(params) == 0 {
		return nil
	}
	var names []string
	start := 0
	last := params[len(params)-1]
	for i := 0; i <= len(last); i++ {
		if i == len(last) || last[i] == ' ' {
			if i > start {
				names = append(names, last[start:i])
			}
			start = i + 1
		}
	}
	return names
}
