package query

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Operation is one root field of a parsed query document with its
// arguments resolved against the request variables.
type Operation struct {
	Name string
	Args map[string]any
}

// Parse reads a structured query document. The accepted grammar covers
// the read contract: an optional `query [Name]` header, one or more
// root fields with optional `(name: value)` arguments, and optional
// selection sets, which are skipped; the result shape of each root
// field is fixed. Values may be literals or `$variable` references.
func Parse(src string, vars map[string]any) ([]Operation, error) {
	s := &scanner{src: []rune(src)}
	s.skipSpace()
	if s.peekIdent() == "query" {
		s.ident()
		s.skipSpace()
		if isIdentStart(s.peek()) {
			s.ident() // operation name, unused
		}
	}
	s.skipSpace()
	braced := false
	if s.peek() == '{' {
		s.next()
		braced = true
	}
	var ops []Operation
	for {
		s.skipSpace()
		switch {
		case s.done():
			if braced {
				return nil, fmt.Errorf("unexpected end of query: missing }")
			}
			if len(ops) == 0 {
				return nil, fmt.Errorf("empty query")
			}
			return ops, nil
		case s.peek() == '}':
			s.next()
			if !braced {
				return nil, fmt.Errorf("unexpected } at offset %d", s.pos)
			}
			if len(ops) == 0 {
				return nil, fmt.Errorf("empty query")
			}
			return ops, nil
		case isIdentStart(s.peek()):
			op, err := s.field(vars)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", s.peek(), s.pos)
		}
	}
}

type scanner struct {
	src []rune
	pos int
}

func (s *scanner) done() bool { return s.pos >= len(s.src) }

func (s *scanner) peek() rune {
	if s.done() {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) next() rune {
	r := s.peek()
	s.pos++
	return r
}

// skipSpace consumes whitespace and commas, which the query language
// treats as insignificant.
func (s *scanner) skipSpace() {
	for !s.done() {
		r := s.peek()
		if unicode.IsSpace(r) || r == ',' {
			s.pos++
			continue
		}
		return
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func (s *scanner) ident() string {
	start := s.pos
	for !s.done() {
		r := s.peek()
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			s.pos++
			continue
		}
		break
	}
	return string(s.src[start:s.pos])
}

func (s *scanner) peekIdent() string {
	save := s.pos
	id := s.ident()
	s.pos = save
	return id
}

func (s *scanner) field(vars map[string]any) (Operation, error) {
	op := Operation{Name: s.ident(), Args: map[string]any{}}
	s.skipSpace()
	if s.peek() == '(' {
		s.next()
		for {
			s.skipSpace()
			if s.peek() == ')' {
				s.next()
				break
			}
			if !isIdentStart(s.peek()) {
				return op, fmt.Errorf("expected argument name at offset %d", s.pos)
			}
			name := s.ident()
			s.skipSpace()
			if s.next() != ':' {
				return op, fmt.Errorf("expected : after argument %q", name)
			}
			s.skipSpace()
			val, err := s.value(vars)
			if err != nil {
				return op, err
			}
			op.Args[name] = val
		}
		s.skipSpace()
	}
	if s.peek() == '{' {
		if err := s.skipSelection(); err != nil {
			return op, err
		}
	}
	return op, nil
}

func (s *scanner) value(vars map[string]any) (any, error) {
	switch r := s.peek(); {
	case r == '$':
		s.next()
		name := s.ident()
		val, ok := vars[name]
		if !ok {
			return nil, fmt.Errorf("variable $%s not provided", name)
		}
		return val, nil
	case r == '"':
		return s.stringLit()
	case r == '-' || unicode.IsDigit(r):
		return s.numberLit()
	case isIdentStart(r):
		switch id := s.ident(); id {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		default:
			return nil, fmt.Errorf("unexpected value %q", id)
		}
	default:
		return nil, fmt.Errorf("unexpected %q in argument value at offset %d", r, s.pos)
	}
}

func (s *scanner) stringLit() (string, error) {
	s.next() // opening quote
	var b strings.Builder
	for !s.done() {
		r := s.next()
		switch r {
		case '"':
			return b.String(), nil
		case '\\':
			if s.done() {
				return "", fmt.Errorf("unterminated string")
			}
			b.WriteRune(s.next())
		default:
			b.WriteRune(r)
		}
	}
	return "", fmt.Errorf("unterminated string")
}

func (s *scanner) numberLit() (any, error) {
	start := s.pos
	if s.peek() == '-' {
		s.next()
	}
	for !s.done() && (unicode.IsDigit(s.peek()) || s.peek() == '.') {
		s.next()
	}
	lit := string(s.src[start:s.pos])
	if strings.Contains(lit, ".") {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", lit)
		}
		return f, nil
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad number %q", lit)
	}
	return n, nil
}

// skipSelection discards a balanced selection set.
func (s *scanner) skipSelection() error {
	depth := 0
	for !s.done() {
		switch s.next() {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return nil
			}
		case '"':
			s.pos-- // stringLit consumes the opening quote itself
			if _, err := s.stringLit(); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("unterminated selection set")
}
