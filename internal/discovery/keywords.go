package discovery

import (
	"fmt"
	"strings"
	"unicode"

	"regtest/internal/domain"
)

// KeywordExpr is a boolean expression over test keywords, e.g.
// "shell & !slow" or "(a | b) & !manual". Operators bind as ! > & > |.
type KeywordExpr interface {
	Match(td domain.TestDescription) bool
	String() string
}

type keywordTerm string

func (k keywordTerm) Match(td domain.TestDescription) bool { return td.HasKeyword(string(k)) }
func (k keywordTerm) String() string                       { return string(k) }

type notExpr struct{ x KeywordExpr }

func (n notExpr) Match(td domain.TestDescription) bool { return !n.x.Match(td) }
func (n notExpr) String() string                       { return "!" + n.x.String() }

type binaryExpr struct {
	op   byte
	l, r KeywordExpr
}

func (b binaryExpr) Match(td domain.TestDescription) bool {
	if b.op == '&' {
		return b.l.Match(td) && b.r.Match(td)
	}
	return b.l.Match(td) || b.r.Match(td)
}

func (b binaryExpr) String() string {
	return fmt.Sprintf("(%s %c %s)", b.l, b.op, b.r)
}

// ParseKeywordExpr parses a keyword expression. An empty expression yields
// nil, which the selection treats as "match everything".
func ParseKeywordExpr(s string) (KeywordExpr, error) {
	p := &kwParser{src: s}
	p.skipSpace()
	if p.pos == len(p.src) {
		return nil, nil
	}
	x, err := p.or()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("keyword expression %q: unexpected %q at %d", s, p.src[p.pos], p.pos)
	}
	return x, nil
}

type kwParser struct {
	src string
	pos int
}

func (p *kwParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *kwParser) peek() byte {
	p.skipSpace()
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *kwParser) or() (KeywordExpr, error) {
	l, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek() == '|' {
		p.pos++
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: '|', l: l, r: r}
	}
	return l, nil
}

func (p *kwParser) and() (KeywordExpr, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.peek() == '&' {
		p.pos++
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binaryExpr{op: '&', l: l, r: r}
	}
	return l, nil
}

func (p *kwParser) unary() (KeywordExpr, error) {
	switch p.peek() {
	case '!':
		p.pos++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return notExpr{x}, nil
	case '(':
		p.pos++
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("keyword expression %q: missing ')'", p.src)
		}
		p.pos++
		return x, nil
	case 0:
		return nil, fmt.Errorf("keyword expression %q: unexpected end", p.src)
	}
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("!&|() \t", rune(p.src[p.pos])) {
		p.pos++
	}
	if p.pos == start {
		return nil, fmt.Errorf("keyword expression %q: unexpected %q at %d", p.src, p.src[p.pos], p.pos)
	}
	return keywordTerm(p.src[start:p.pos]), nil
}
