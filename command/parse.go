package command

import (
	"fmt"
	"strings"
)

// Command is a parsed request line: an operation name followed by key=value
// arguments.
type Command struct {
	Operation string
	Args      map[string]string
}

// Get returns the named argument and whether it was present.
func (c *Command) Get(key string) (string, bool) {
	v, ok := c.Args[key]
	return v, ok
}

// Parse splits a request of the form
//
//	operation name1=value1 name2="quoted value"
//
// Values may be double-quoted to carry spaces; inside quotes, \" and \\ are
// the only escapes. Argument names repeat-last-wins.
func Parse(line string) (*Command, error) {
	tokens, err := tokenize(line)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty request")
	}
	cmd := &Command{Operation: tokens[0], Args: make(map[string]string, len(tokens)-1)}
	if strings.Contains(cmd.Operation, "=") {
		return nil, fmt.Errorf("request must start with an operation, got %q", cmd.Operation)
	}
	for _, tok := range tokens[1:] {
		name, value, ok := strings.Cut(tok, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not name=value", tok)
		}
		cmd.Args[name] = value
	}
	return cmd, nil
}

// tokenize splits on unquoted whitespace. Quotes open only after '=' or at a
// token boundary, so values like a="b c" stay one token.
func tokenize(line string) ([]string, error) {
	var tokens []string
	var cur strings.Builder
	inToken := false
	inQuote := false
	escaped := false

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case inQuote && r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
			inToken = true
		case !inQuote && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if escaped {
		return nil, fmt.Errorf("dangling escape")
	}
	flush()
	return tokens, nil
}
