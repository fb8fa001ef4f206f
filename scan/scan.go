// Package scan provides small lexing/parsing primitives shared by the
// line-oriented grammars under scan/... (IRC messages today; IRC mode
// strings in the original gossip server this module is descended
// from). It deliberately knows nothing about IRC itself — consumer
// packages supply their own Classify function and grammar.
package scan

import "unicode/utf8"

// TokenType classifies a single rune of input. Lex emits whatever the
// Classify function returns, including the zero value (scan/msg uses
// it for ordinary runes); EOF is returned once a Parser runs off the
// end of its token stream.
type TokenType int

// EOF is the TokenType a Parser reports once it has consumed every
// token. It never appears in a token stream built by Lex.
const EOF TokenType = -1

// Token pairs one rune of input with the classification a Classify
// function gave it.
type Token struct {
	TokenType TokenType
	Value     rune
}

// Classify maps a single rune to a TokenType. Grammars are written in
// terms of TokenType, not the rune itself, so two different delimiter
// runes can share a classification, or the same rune can mean
// different things in different grammars.
type Classify func(rune) TokenType

// Lex tokenizes b one rune at a time using classify.
func Lex(b []byte, classify Classify) []Token {
	runes := []rune(string(b))
	tokens := make([]Token, len(runes))
	for i, r := range runes {
		tokens[i] = Token{TokenType: classify(r), Value: r}
	}
	return tokens
}

// Parser walks a Token stream left to right. BytesRead tracks how
// many bytes of the original input have been consumed so grammars can
// enforce size limits (the 512-byte IRC line limit, the 8191-byte tag
// limit) without a second pass over the input.
type Parser struct {
	Tokens    []Token
	pos       int
	BytesRead int
}

// Peek returns the next unconsumed token without advancing. Past the
// end of the stream it returns a Token with TokenType EOF.
func (p *Parser) Peek() Token {
	if p.pos >= len(p.Tokens) {
		return Token{TokenType: EOF}
	}
	return p.Tokens[p.pos]
}

// Next returns the next unconsumed token and advances past it. Once
// the stream is exhausted, Next keeps returning EOF without advancing
// further, so a grammar production that fails to special-case EOF in
// its stop condition does not corrupt BytesRead.
func (p *Parser) Next() Token {
	t := p.Peek()
	if p.pos < len(p.Tokens) {
		p.pos++
		p.BytesRead += utf8.RuneLen(t.Value)
	}
	return t
}

// Expect consumes the next token if it matches tt, reporting whether
// it did.
func (p *Parser) Expect(tt TokenType) bool {
	if p.Peek().TokenType != tt {
		return false
	}
	p.Next()
	return true
}

func IsLetter(r rune) bool { return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') }
func IsDigit(r rune) bool  { return r >= '0' && r <= '9' }
