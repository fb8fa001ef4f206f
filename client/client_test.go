package client

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mitchr/gossip-sasl/audit"
	"github.com/mitchr/gossip-sasl/metrics"
	"github.com/mitchr/gossip-sasl/sasl"
)

// serverHarness plays the server side of the conversation over a
// net.Pipe so the whole CAP+SASL flow can be driven end to end without
// a real network. Reads happen on their own goroutine and are handed
// off over a channel, since net.Pipe is synchronous: a Write on either
// end blocks until the peer's Read consumes it, so the test goroutine
// cannot both write the server's next line and synchronously read the
// client's previous one without a dedicated reader.
type serverHarness struct {
	t     *testing.T
	conn  net.Conn
	lines chan string
}

func newHarness(t *testing.T, server net.Conn) *serverHarness {
	h := &serverHarness{t: t, conn: server, lines: make(chan string, 16)}
	go func() {
		r := bufio.NewReader(server)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			h.lines <- line
		}
	}()
	return h
}

func (h *serverHarness) readLine() string {
	h.t.Helper()
	select {
	case line := <-h.lines:
		return line
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for a line from the client")
		return ""
	}
}

func (h *serverHarness) send(line string) {
	h.t.Helper()
	h.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := h.conn.Write([]byte(line + "\r\n")); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

func TestClientEndToEndPlainSuccess(t *testing.T) {
	server, clientConn := net.Pipe()
	defer server.Close()
	defer clientConn.Close()

	h := newHarness(t, server)

	outcomes := make(chan Outcome, 1)
	c := New(clientConn, "irc.example.org", Profile{
		Mechanism: sasl.Plain,
		Cred:      sasl.Credentials{Username: "alice", Password: "hunter2"},
	}, zerolog.Nop())
	c.OnOutcome = func(o Outcome) { outcomes <- o }

	go func() {
		for {
			line, err := c.conn.ReadLine()
			if err != nil {
				return
			}
			c.HandleLine(line)
		}
	}()

	c.RequestSASL()
	if got := h.readLine(); got != "CAP REQ :sasl\r\n" {
		t.Fatalf("got %q", got)
	}

	h.send(":irc.example.org CAP * ACK :sasl")
	if got := h.readLine(); got != "AUTHENTICATE PLAIN\r\n" {
		t.Fatalf("got %q", got)
	}

	h.send("AUTHENTICATE +")
	if got := h.readLine(); got != "AUTHENTICATE YWxpY2UAYWxpY2UAaHVudGVyMg==\r\n" {
		t.Fatalf("got %q", got)
	}

	h.send(":irc.example.org 903 alice :SASL authentication successful")

	select {
	case o := <-outcomes:
		if !o.Success {
			t.Fatalf("expected success, got %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestClientEndToEndServerFailure(t *testing.T) {
	server, clientConn := net.Pipe()
	defer server.Close()
	defer clientConn.Close()

	h := newHarness(t, server)

	outcomes := make(chan Outcome, 1)
	c := New(clientConn, "irc.example.org", Profile{
		Mechanism: sasl.Plain,
		Cred:      sasl.Credentials{Username: "alice", Password: "wrong"},
	}, zerolog.Nop())
	c.OnOutcome = func(o Outcome) { outcomes <- o }

	go func() {
		for {
			line, err := c.conn.ReadLine()
			if err != nil {
				return
			}
			c.HandleLine(line)
		}
	}()

	c.RequestSASL()
	h.readLine() // CAP REQ
	h.send(":irc.example.org CAP * ACK :sasl")
	h.readLine() // AUTHENTICATE PLAIN
	h.send("AUTHENTICATE +")
	h.readLine() // AUTHENTICATE <response>

	h.send(":irc.example.org 904 * :Invalid credentials")

	select {
	case o := <-outcomes:
		if o.Success || o.Reason != "Invalid credentials" {
			t.Fatalf("got %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestClientRecordsMetricsAndAudit(t *testing.T) {
	server, clientConn := net.Pipe()
	defer server.Close()
	defer clientConn.Close()

	h := newHarness(t, server)

	auditLog, err := audit.Open(":memory:", 10)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	defer auditLog.Close()

	outcomes := make(chan Outcome, 1)
	c := New(clientConn, "irc.example.org", Profile{
		Mechanism: sasl.Plain,
		Cred:      sasl.Credentials{Username: "alice", Password: "hunter2"},
	}, zerolog.Nop())
	c.Metrics = metrics.New()
	c.Audit = auditLog
	c.OnOutcome = func(o Outcome) { outcomes <- o }

	go func() {
		for {
			line, err := c.conn.ReadLine()
			if err != nil {
				return
			}
			c.HandleLine(line)
		}
	}()

	c.RequestSASL()
	h.readLine() // CAP REQ
	h.send(":irc.example.org CAP * ACK :sasl")
	h.readLine() // AUTHENTICATE PLAIN
	h.send("AUTHENTICATE +")
	h.readLine() // AUTHENTICATE <response>
	h.send(":irc.example.org 903 alice :SASL authentication successful")

	select {
	case <-outcomes:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}

	got, err := auditLog.ForServer(context.Background(), "irc.example.org")
	if err != nil {
		t.Fatalf("ForServer: %v", err)
	}
	if len(got) != 1 || !got[0].Success || got[0].Mechanism != "PLAIN" {
		t.Fatalf("got %+v", got)
	}
}

func TestClientRecordsOversizeChallenge(t *testing.T) {
	server, clientConn := net.Pipe()
	defer server.Close()
	defer clientConn.Close()

	h := newHarness(t, server)

	collector := metrics.New()
	outcomes := make(chan Outcome, 1)
	c := New(clientConn, "irc.example.org", Profile{
		Mechanism: sasl.Plain,
		Cred:      sasl.Credentials{Username: "alice", Password: "hunter2"},
	}, zerolog.Nop())
	c.Metrics = collector
	c.OnOutcome = func(o Outcome) { outcomes <- o }

	go func() {
		for {
			line, err := c.conn.ReadLine()
			if err != nil {
				return
			}
			c.HandleLine(line)
		}
	}()

	c.RequestSASL()
	h.readLine() // CAP REQ
	h.send(":irc.example.org CAP * ACK :sasl")
	h.readLine() // AUTHENTICATE PLAIN

	// Full-size chunks are never final, so they keep accumulating; the
	// 21st pushes the buffer to 8400 > sasl.MaxEncoded and the session
	// aborts on the spot. Each line stays under the 512-byte IRC limit
	// the transport enforces.
	for i := 0; i < sasl.MaxEncoded/sasl.ChunkSize+1; i++ {
		h.send("AUTHENTICATE " + strings.Repeat("A", sasl.ChunkSize))
	}

	select {
	case o := <-outcomes:
		if o.Success || o.Reason != sasl.MalformedReason {
			t.Fatalf("got %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}

	// recordOutcome routes a MalformedReason abort through both
	// OversizeChallenge and the ordinary failure counter; Collector
	// keeps its vectors unexported; assert via the registry it built.
	families, err := collector.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sawOversize bool
	for _, mf := range families {
		if mf.GetName() == "sasl_oversize_challenges_total" {
			for _, m := range mf.GetMetric() {
				if m.GetCounter().GetValue() > 0 {
					sawOversize = true
				}
			}
		}
	}
	if !sawOversize {
		t.Fatal("expected sasl_oversize_challenges_total to be incremented")
	}
}
