package msg

import "github.com/mitchr/gossip-sasl/scan"

// TokenType values used by the IRC message grammar. Letters, digits,
// and every other "ordinary" rune share the single other class;
// scan.IsLetter/scan.IsDigit distinguish them where the grammar cares.
const (
	other scan.TokenType = iota
	at
	colon
	semicolon
	space
	clientPrefix
	equals
	fwdSlash
	exclam
	cr
	lf
)

// classify is the Classify function for raw IRC lines.
func classify(r rune) scan.TokenType {
	switch r {
	case '@':
		return at
	case ':':
		return colon
	case ';':
		return semicolon
	case ' ':
		return space
	case '+':
		return clientPrefix
	case '=':
		return equals
	case '/':
		return fwdSlash
	case '!':
		return exclam
	case '\r':
		return cr
	case '\n':
		return lf
	default:
		return other
	}
}

// TagVal is the value half of one IRCv3 message tag.
type TagVal struct {
	// ClientPrefix is true if the tag name was prefixed with "+",
	// marking it a client-only tag.
	ClientPrefix bool
	// Vendor is the "vendor/" portion of a vendored tag name, if any.
	Vendor string
	Value  string
}

// Message is a single parsed IRC line.
type Message struct {
	tags map[string]TagVal

	Nick, User, Host string

	Command string
	Params  []string
	// trailingSet is true if the last parameter was introduced with
	// ":", even if it is empty — distinguishing "CMD a :" from "CMD a".
	trailingSet bool
}

func (m *Message) Tag(name string) (TagVal, bool) {
	v, ok := m.tags[name]
	return v, ok
}
