package converter

import (
	"regexp"
	"strings"
)

var flagRe = regexp.MustCompile(`^--[A-Za-z0-9][A-Za-z0-9-]*$`)

// Arg is one converter option, with an optional value.
type Arg struct {
	Flag  string
	Value string
	// HasValue distinguishes `--flag ""` from a bare `--flag`.
	HasValue bool
}

// ParseArgs splits a free-form option string such as
//
//	--pretty-print --title "A  Title" --base-font-size 12
//
// into flag/value pairs. Double-quoted values keep their inner whitespace
// verbatim. Flags outside the allowed pattern, stray values and unbalanced
// quotes are configuration errors.
func ParseArgs(s string) ([]Arg, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}

	var args []Arg
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok.quoted || !strings.HasPrefix(tok.text, "--") {
			return nil, Errorf(ErrConfiguration, "unexpected converter argument %q", tok.text)
		}
		if !flagRe.MatchString(tok.text) {
			return nil, Errorf(ErrConfiguration, "invalid converter flag %q", tok.text)
		}
		arg := Arg{Flag: tok.text}
		if i+1 < len(tokens) {
			next := tokens[i+1]
			if next.quoted || !strings.HasPrefix(next.text, "--") {
				arg.Value = next.text
				arg.HasValue = true
				i++
			}
		}
		args = append(args, arg)
	}
	return args, nil
}

// Argv flattens parsed args into an argument vector.
func Argv(args []Arg) []string {
	out := make([]string, 0, len(args)*2)
	for _, a := range args {
		out = append(out, a.Flag)
		if a.HasValue {
			out = append(out, a.Value)
		}
	}
	return out
}

type token struct {
	text   string
	quoted bool
}

func tokenize(s string) ([]token, error) {
	var (
		tokens []token
		cur    strings.Builder
		inWord bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && !inWord:
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '"' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, Errorf(ErrConfiguration, "unterminated quote in converter arguments")
			}
			tokens = append(tokens, token{text: string(runes[i+1 : end]), quoted: true})
			i = end
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inWord {
				tokens = append(tokens, token{text: cur.String()})
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if inWord {
		tokens = append(tokens, token{text: cur.String()})
	}
	return tokens, nil
}
