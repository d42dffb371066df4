package command

import (
	"strings"
	"unicode"
)

// Tokenize splits a command line on whitespace. A double-quoted span is one
// token with the quotes removed, so `tag_event "Web Summit" 12` yields three
// tokens. An unterminated quote runs to the end of the line. Single quotes
// are ordinary characters, so O'Reilly stays one word.
func Tokenize(line string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	flush := func() {
		if started {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
		started = false
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	flush()
	return tokens
}

// commandName normalises the first token: the leading "/" is optional and a
// Telegram "@botname" suffix is dropped.
func commandName(tok string) string {
	tok = strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(tok, '@'); i >= 0 {
		tok = tok[:i]
	}
	return strings.ToLower(tok)
}
