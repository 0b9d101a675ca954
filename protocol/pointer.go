package protocol

import (
	"fmt"
	"strings"
)

// json pointer handling per rfc 6901. `~` escapes to `~0`, `/` to `~1`.
// the empty pointer denotes the document root.

const (
	ErrorKindInvalidPointer = "invalid_pointer"
	ErrorKindInvalidEscape  = "invalid_escape"
)

type PointerError struct {
	Kind    string
	Pointer string
}

func (self *PointerError) Error() string {
	return fmt.Sprintf("%s: %q", self.Kind, self.Pointer)
}

func EscapeToken(token string) string {
	escaped := strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(escaped, "/", "~1")
}

func UnescapeToken(token string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(token); i += 1 {
		c := token[i]
		if c != '~' {
			out.WriteByte(c)
			continue
		}
		if len(token) <= i+1 {
			return "", &PointerError{Kind: ErrorKindInvalidEscape, Pointer: token}
		}
		switch token[i+1] {
		case '0':
			out.WriteByte('~')
		case '1':
			out.WriteByte('/')
		default:
			return "", &PointerError{Kind: ErrorKindInvalidEscape, Pointer: token}
		}
		i += 1
	}
	return out.String(), nil
}

// Pointer joins tokens into an escaped json pointer string.
// An empty token list is the document root.
func Pointer(tokens ...string) string {
	if len(tokens) == 0 {
		return ""
	}
	escaped := make([]string, len(tokens))
	for i, token := range tokens {
		escaped[i] = EscapeToken(token)
	}
	return "/" + strings.Join(escaped, "/")
}

// ParsePointer splits a json pointer string into unescaped tokens.
// The empty string parses to an empty token list.
func ParsePointer(pointer string) ([]string, error) {
	if pointer == "" {
		return []string{}, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, &PointerError{Kind: ErrorKindInvalidPointer, Pointer: pointer}
	}
	parts := strings.Split(pointer[1:], "/")
	tokens := make([]string, len(parts))
	for i, part := range parts {
		token, err := UnescapeToken(part)
		if err != nil {
			return nil, &PointerError{Kind: ErrorKindInvalidEscape, Pointer: pointer}
		}
		tokens[i] = token
	}
	return tokens, nil
}
