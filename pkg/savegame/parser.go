package savegame

import "strings"

// Parser splits entity and save text into tokens. A token is a quoted
// string, one of the punctuation characters { } ( ) ' : or a run of
// non-blank characters. Line comments starting with // are skipped.
type Parser struct {
	data string
	pos  int
	line int
}

// NewParser creates a parser over data.
func NewParser(data string) *Parser {
	return &Parser{data: data, line: 1}
}

// Line returns the current line number.
func (p *Parser) Line() int {
	return p.line
}

// Rest returns the unparsed input.
func (p *Parser) Rest() string {
	return p.data[p.pos:]
}

// Next returns the next token, or false at end of input.
func (p *Parser) Next() (string, bool) {
	for {
		for p.pos < len(p.data) && p.data[p.pos] <= ' ' {
			if p.data[p.pos] == '\n' {
				p.line++
			}
			p.pos++
		}
		if p.pos >= len(p.data) {
			return "", false
		}
		if strings.HasPrefix(p.data[p.pos:], "//") {
			for p.pos < len(p.data) && p.data[p.pos] != '\n' {
				p.pos++
			}
			continue
		}
		break
	}

	c := p.data[p.pos]
	if c == '"' {
		p.pos++
		start := p.pos
		for p.pos < len(p.data) && p.data[p.pos] != '"' {
			if p.data[p.pos] == '\n' {
				p.line++
			}
			p.pos++
		}
		tok := p.data[start:p.pos]
		if p.pos < len(p.data) {
			p.pos++
		}
		return tok, true
	}

	if isPunct(c) {
		p.pos++
		return string(c), true
	}

	start := p.pos
	for p.pos < len(p.data) && p.data[p.pos] > ' ' && !isPunct(p.data[p.pos]) {
		p.pos++
	}
	return p.data[start:p.pos], true
}

func isPunct(c byte) bool {
	switch c {
	case '{', '}', '(', ')', '\'', ':':
		return true
	}
	return false
}

// escape encodes newlines and backslashes for a quoted value.
func escape(s string) string {
	if !strings.ContainsAny(s, "\n\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			sb.WriteString(`\n`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// unescape reverses escape. A backslash followed by anything other than n
// yields a plain backslash.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == 'n' {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte('\\')
			}
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
