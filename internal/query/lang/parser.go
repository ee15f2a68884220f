package lang

import (
	"fmt"

	cserrors "github.com/wedaly/caesium/internal/errors"
)

// Parser is a hand-written recursive-descent parser over the token
// stream produced by a Lexer. It holds exactly one token of
// look-ahead, consumed and refilled by advance.
type Parser struct {
	lex *Lexer
	tok Token
}

// NewParser returns a Parser ready to parse src.
func NewParser(src string) *Parser {
	return &Parser{lex: NewLexer(src)}
}

// Parse parses src as a complete query: either a quantile expression
// or a bare set expression, with nothing left over afterward.
func Parse(src string) (Expr, error) {
	p := NewParser(src)
	if err := p.advance(); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("unexpected trailing %s", describeTok(p.tok))}
	}
	return expr, nil
}

func (p *Parser) advance() error {
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *Parser) expect(kind TokenKind) error {
	if p.tok.Kind != kind {
		return &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("expected %s, got %s", kind, describeTok(p.tok))}
	}
	return p.advance()
}

func describeTok(t Token) string {
	switch t.Kind {
	case TokIdent:
		return fmt.Sprintf("identifier %q", t.Text)
	case TokString:
		return fmt.Sprintf("string %q", t.Text)
	case TokInt, TokFloat:
		return fmt.Sprintf("number %q", t.Text)
	default:
		return t.Kind.String()
	}
}

func (p *Parser) parseExpr() (Expr, error) {
	if p.tok.Kind == TokIdent && p.tok.Text == "quantile" {
		return p.parseQuantile(p.tok.Pos)
	}
	return p.parseSetExpr()
}

// parseSetExpr parses one of fetch/coalesce/combine/group/search. A
// bare "quantile(...)" appearing here is a type error, not a syntax
// error: it parses fine grammatically but produces a quantile table
// where a window stream is required.
func (p *Parser) parseSetExpr() (Expr, error) {
	if p.tok.Kind != TokIdent {
		return nil, &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("expected a function name, got %s", describeTok(p.tok))}
	}

	pos := p.tok.Pos
	switch p.tok.Text {
	case "fetch":
		return p.parseFetch(pos)
	case "coalesce":
		return p.parseCoalesce(pos)
	case "combine":
		return p.parseCombine(pos)
	case "group":
		return p.parseGroup(pos)
	case "search":
		return p.parseSearch(pos)
	case "quantile":
		return nil, newTypeError(pos, "quantile produces a quantile table, not a window stream", KindWindowStream, KindQuantileTable)
	default:
		return nil, &SyntaxError{Pos: pos, Msg: fmt.Sprintf("unknown function %q", p.tok.Text)}
	}
}

func (p *Parser) parseName() (string, error) {
	switch p.tok.Kind {
	case TokString, TokIdent:
		name := p.tok.Text
		if err := p.advance(); err != nil {
			return "", err
		}
		return name, nil
	default:
		return "", &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("expected a name, got %s", describeTok(p.tok))}
	}
}

func (p *Parser) parseUint() (uint64, error) {
	if p.tok.Kind != TokInt {
		return 0, &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("expected an integer timestamp, got %s", describeTok(p.tok))}
	}
	v := p.tok.Int
	return v, p.advance()
}

func (p *Parser) parseNumber() (float64, error) {
	switch p.tok.Kind {
	case TokInt:
		v := float64(p.tok.Int)
		return v, p.advance()
	case TokFloat:
		v := p.tok.Float
		return v, p.advance()
	default:
		return 0, &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("expected a number, got %s", describeTok(p.tok))}
	}
}

// fetch := "fetch" "(" name ("," int "," int)? ")"
func (p *Parser) parseFetch(pos int) (Expr, error) {
	if err := p.advance(); err != nil { // consume "fetch"
		return nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	metric, err := p.parseName()
	if err != nil {
		return nil, err
	}

	f := &Fetch{Metric: metric, position: pos}
	if p.tok.Kind == TokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		lo, err := p.parseUint()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokComma); err != nil {
			return nil, err
		}
		hi, err := p.parseUint()
		if err != nil {
			return nil, err
		}
		f.Bounded, f.Lo, f.Hi = true, lo, hi
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return f, nil
}

// coalesce := "coalesce" "(" set_expr ")"
func (p *Parser) parseCoalesce(pos int) (Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	inner, err := p.parseWindowStreamArg()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return &Coalesce{Input: inner, position: pos}, nil
}

// combine := "combine" "(" set_expr ("," set_expr)+ ")"
func (p *Parser) parseCombine(pos int) (Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	first, err := p.parseWindowStreamArg()
	if err != nil {
		return nil, err
	}
	inputs := []Expr{first}
	for p.tok.Kind == TokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		next, err := p.parseWindowStreamArg()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, next)
	}
	if len(inputs) < 2 {
		return nil, &SyntaxError{Pos: pos, Msg: "combine requires at least two inputs"}
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return &Combine{Inputs: inputs, position: pos}, nil
}

// group := "group" "(" bucket "," set_expr ")"
func (p *Parser) parseGroup(pos int) (Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	bucket, err := p.parseBucket()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokComma); err != nil {
		return nil, err
	}
	inner, err := p.parseWindowStreamArg()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return &Group{Bucket: bucket, Input: inner, position: pos}, nil
}

func (p *Parser) parseBucket() (GroupBucket, error) {
	if p.tok.Kind != TokIdent {
		return 0, &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("expected a bucket name, got %s", describeTok(p.tok))}
	}
	var b GroupBucket
	switch p.tok.Text {
	case "minutes":
		b = GroupMinutes
	case "hours":
		b = GroupHours
	case "days":
		b = GroupDays
	default:
		return 0, &SyntaxError{Pos: p.tok.Pos, Msg: fmt.Sprintf("unknown bucket %q, expected minutes, hours, or days", p.tok.Text)}
	}
	return b, p.advance()
}

// search := "search" "(" name ")"
func (p *Parser) parseSearch(pos int) (Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	pattern, err := p.parseName()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return &Search{Pattern: pattern, position: pos}, nil
}

// quantile := "quantile" "(" set_expr ("," number)+ ")"
func (p *Parser) parseQuantile(pos int) (Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	inner, err := p.parseWindowStreamArg()
	if err != nil {
		return nil, err
	}

	var phis []float64
	for p.tok.Kind == TokComma {
		if err := p.advance(); err != nil {
			return nil, err
		}
		numPos := p.tok.Pos
		phi, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if phi <= 0 || phi >= 1 {
			return nil, &BadQuantileError{Pos: numPos, Phi: phi}
		}
		phis = append(phis, phi)
	}
	if len(phis) == 0 {
		return nil, &SyntaxError{Pos: pos, Msg: "quantile requires at least one phi argument"}
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return &Quantile{Input: inner, Phis: phis, position: pos}, nil
}

// parseWindowStreamArg parses a set_expr and enforces that it
// evaluates to a window stream, the only value kind fetch/coalesce/
// combine/group/quantile accept as an operand.
func (p *Parser) parseWindowStreamArg() (Expr, error) {
	e, err := p.parseSetExpr()
	if err != nil {
		return nil, err
	}
	if e.Kind() != KindWindowStream {
		return nil, newTypeError(e.Pos(), "expected a window stream argument", KindWindowStream, e.Kind())
	}
	return e, nil
}

// BadQuantileError reports a phi argument outside the open interval (0, 1).
type BadQuantileError struct {
	Pos int
	Phi float64
}

func (e *BadQuantileError) Error() string {
	return fmt.Sprintf("quantile argument %v at position %d must be strictly between 0 and 1", e.Phi, e.Pos)
}

func (e *BadQuantileError) Unwrap() error {
	return cserrors.ErrBadQuantile
}
