package msg

import "testing"

func TestParseLineAuthenticate(t *testing.T) {
	m, err := ParseLine([]byte("AUTHENTICATE +\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Command != "AUTHENTICATE" {
		t.Fatalf("got command %q", m.Command)
	}
	if len(m.Params) != 1 || m.Params[0] != "+" {
		t.Fatalf("got params %v", m.Params)
	}
}

func TestParseLineAuthenticateChunk(t *testing.T) {
	chunk := "YWxpY2UAYWxpY2UAaHVudGVyMg=="
	m, err := ParseLine([]byte("AUTHENTICATE " + chunk + "\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Params) != 1 || m.Params[0] != chunk {
		t.Fatalf("got params %v", m.Params)
	}
}

func TestParseLineNumericFailureWithSource(t *testing.T) {
	m, err := ParseLine([]byte(":irc.example.org 904 * :Invalid credentials\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Command != "904" {
		t.Fatalf("got command %q", m.Command)
	}
	if m.Nick != "irc.example.org" {
		t.Fatalf("got source %q", m.Nick)
	}
	if len(m.Params) != 2 || m.Params[0] != "*" || m.Params[1] != "Invalid credentials" {
		t.Fatalf("got params %v", m.Params)
	}
}

func TestParseLineRejectsMissingCRLF(t *testing.T) {
	_, err := ParseLine([]byte("AUTHENTICATE +"))
	if err == nil {
		t.Fatal("expected an error for a line missing its CRLF terminator")
	}
}

func TestParseLineOversizeTags(t *testing.T) {
	huge := make([]byte, 0, maxTags+64)
	huge = append(huge, '@')
	huge = append(huge, 'a', '=')
	for len(huge) < maxTags+10 {
		huge = append(huge, 'x')
	}
	huge = append(huge, ' ', 'P', 'I', 'N', 'G', '\r', '\n')

	_, err := ParseLine(huge)
	if err != ErrMsgSizeOverflow {
		t.Fatalf("expected ErrMsgSizeOverflow, got %v", err)
	}
}
