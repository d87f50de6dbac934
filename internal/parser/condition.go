package parser

import (
	"fmt"
	"strconv"
	"strings"

	"dtree-rule-compiler/internal/model"
)

type TokenKind int

const (
	TokenIdent TokenKind = iota
	TokenInt
	TokenOp
	TokenAnd
)

func (k TokenKind) String() string {
	switch k {
	case TokenIdent:
		return "identifier"
	case TokenInt:
		return "integer"
	case TokenOp:
		return "operator"
	case TokenAnd:
		return "conjunction"
	}
	return "unknown"
}

type Token struct {
	Kind  TokenKind
	Text  string
	Value uint64
	Pos   int
}

// Tokenize splits a conjunctive condition into tokens. Terms may be joined
// by whitespace, "and", "&&" or ",".
func Tokenize(s string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case isIdentStart(c):
			start := i
			for i < len(s) && isIdentPart(s[i]) {
				i++
			}
			word := s[start:i]
			if strings.EqualFold(word, "and") {
				tokens = append(tokens, Token{Kind: TokenAnd, Text: word, Pos: start})
			} else {
				tokens = append(tokens, Token{Kind: TokenIdent, Text: word, Pos: start})
			}
		case isDigit(c):
			start := i
			for i < len(s) && (isIdentPart(s[i]) || s[i] == '.') {
				i++
			}
			v, err := parseInteger(s[start:i])
			if err != nil {
				return nil, fmt.Errorf("position %d: %w", start, err)
			}
			tokens = append(tokens, Token{Kind: TokenInt, Text: s[start:i], Value: v, Pos: start})
		case c == '<' || c == '>':
			start := i
			i++
			if i < len(s) && s[i] == '=' {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenOp, Text: s[start:i], Pos: start})
		case c == '=':
			if i+1 < len(s) && s[i+1] == '=' {
				return nil, fmt.Errorf("position %d: operator == is not supported, use =", i)
			}
			tokens = append(tokens, Token{Kind: TokenOp, Text: "=", Pos: i})
			i++
		case c == '&':
			if i+1 >= len(s) || s[i+1] != '&' {
				return nil, fmt.Errorf("position %d: unexpected '&'", i)
			}
			tokens = append(tokens, Token{Kind: TokenAnd, Text: "&&", Pos: i})
			i += 2
		case c == ',':
			tokens = append(tokens, Token{Kind: TokenAnd, Text: ",", Pos: i})
			i++
		default:
			return nil, fmt.Errorf("position %d: unexpected character %q", i, c)
		}
	}
	return tokens, nil
}

// ParseCondition parses a flat conjunction of "<field><op><int>" terms.
// When fields is non-nil, every referenced field must be a member.
func ParseCondition(s string, fields map[string]bool) ([]model.Term, error) {
	tokens, err := Tokenize(s)
	if err != nil {
		return nil, err
	}

	var terms []model.Term
	for i := 0; i < len(tokens); {
		if len(terms) > 0 && tokens[i].Kind == TokenAnd {
			i++
			if i == len(tokens) {
				return nil, fmt.Errorf("position %d: dangling %q", tokens[i-1].Pos, tokens[i-1].Text)
			}
		}
		if len(tokens)-i < 3 {
			return nil, fmt.Errorf("position %d: incomplete term", tokens[i].Pos)
		}
		field, op, value := tokens[i], tokens[i+1], tokens[i+2]
		if field.Kind != TokenIdent {
			return nil, fmt.Errorf("position %d: expected field name, got %s %q", field.Pos, field.Kind, field.Text)
		}
		if op.Kind != TokenOp {
			return nil, fmt.Errorf("position %d: expected operator, got %s %q", op.Pos, op.Kind, op.Text)
		}
		if value.Kind != TokenInt {
			return nil, fmt.Errorf("position %d: expected integer, got %s %q", value.Pos, value.Kind, value.Text)
		}
		if fields != nil && !fields[field.Text] {
			return nil, fmt.Errorf("unknown field %q", field.Text)
		}
		terms = append(terms, model.Term{Field: field.Text, Op: model.Op(op.Text), Value: value.Value})
		i += 3
	}
	return terms, nil
}

// parseInteger accepts decimal or 0x-prefixed hexadecimal, nothing else.
func parseInteger(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", s)
		}
		return v, nil
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, fmt.Errorf("invalid integer %q", s)
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }

// ParseValue parses a decimal or 0x-prefixed hexadecimal field value.
func ParseValue(s string) (uint64, error) {
	return parseInteger(strings.TrimSpace(s))
}
