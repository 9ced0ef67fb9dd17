package level

import (
	"fmt"
	"strings"
)

// ParseEntities splits map entity text into key/value blocks:
//
//	{
//	"classname" "worldspawn"
//	"wad" "gfx/base.wad"
//	}
//
// Line comments starting with // are skipped. Keys have trailing spaces
// removed; a repeated key keeps its last value.
func ParseEntities(text string) ([]map[string]string, error) {
	lx := lexer{src: text, line: 1}
	var out []map[string]string
	for {
		tok, ok, err := lx.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if tok != "{" {
			return nil, fmt.Errorf("%w: line %d: found %q when expecting {", ErrParse, lx.line, tok)
		}
		fields, err := lx.block()
		if err != nil {
			return nil, err
		}
		out = append(out, fields)
	}
}

type lexer struct {
	src  string
	pos  int
	line int
}

func (lx *lexer) block() (map[string]string, error) {
	fields := make(map[string]string)
	for {
		key, ok, err := lx.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: EOF without closing brace", ErrParse)
		}
		if key == "}" {
			return fields, nil
		}
		value, ok, err := lx.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: EOF without closing brace", ErrParse)
		}
		if value == "}" {
			return nil, fmt.Errorf("%w: line %d: closing brace without data", ErrParse, lx.line)
		}
		fields[strings.TrimRight(key, " ")] = value
	}
}

func isPunct(c byte) bool {
	switch c {
	case '{', '}', '(', ')', '\'', ':':
		return true
	}
	return false
}

// next returns the following token. Quoted strings are returned without
// their quotes; ok is false at end of input.
func (lx *lexer) next() (string, bool, error) {
	for {
		for lx.pos < len(lx.src) && lx.src[lx.pos] <= ' ' {
			if lx.src[lx.pos] == '\n' {
				lx.line++
			}
			lx.pos++
		}
		if lx.pos >= len(lx.src) {
			return "", false, nil
		}
		if strings.HasPrefix(lx.src[lx.pos:], "//") {
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
			continue
		}
		break
	}

	c := lx.src[lx.pos]
	switch {
	case c == '"':
		end := strings.IndexByte(lx.src[lx.pos+1:], '"')
		if end < 0 {
			return "", false, fmt.Errorf("%w: line %d: unterminated string", ErrParse, lx.line)
		}
		tok := lx.src[lx.pos+1 : lx.pos+1+end]
		lx.line += strings.Count(tok, "\n")
		lx.pos += end + 2
		return tok, true, nil
	case isPunct(c):
		lx.pos++
		return string(c), true, nil
	}

	start := lx.pos
	for lx.pos < len(lx.src) && lx.src[lx.pos] > ' ' && !isPunct(lx.src[lx.pos]) {
		lx.pos++
	}
	return lx.src[start:lx.pos], true, nil
}

// unescape turns the two-character sequence \n into a newline and drops
// any other backslash escape to a plain backslash.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == 'n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte('\\')
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
