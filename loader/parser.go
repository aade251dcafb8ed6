package loader

import (
	"fmt"

	"galevm/term"
)

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(off int) token {
	if p.pos+off >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+off]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != k {
		return t, &LexError{t.line, fmt.Sprintf("expected %s, got %q", what, t.text)}
	}
	return t, nil
}

func (p *parser) expectIdent(text string) error {
	t := p.next()
	if t.kind != tokIdent || t.text != text {
		return &LexError{t.line, fmt.Sprintf("expected %q, got %q", text, t.text)}
	}
	return nil
}

// parseModule parses a full module source (spec.md §6 grammar, with the
// `const` declaration form supplemented - see DESIGN.md).
func parseModule(src string) (*term.Module, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if err := p.expectIdent("mod"); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(tokIdent, "module name")
	if err != nil {
		return nil, err
	}
	mod := &term.Module{Name: nameTok.text}
	for p.peek().kind != tokEOF {
		switch {
		case p.peek().kind == tokIdent && p.peek().text == "const":
			cd, err := p.parseConstDecl()
			if err != nil {
				return nil, err
			}
			mod.Consts = append(mod.Consts, cd)
		case p.peek().kind == tokIdent && p.peek().text == "fn":
			fn, err := p.parseFunction()
			if err != nil {
				return nil, err
			}
			mod.Functions = append(mod.Functions, fn)
		default:
			t := p.peek()
			return nil, &LexError{t.line, fmt.Sprintf("expected 'const' or 'fn', got %q", t.text)}
		}
	}
	return mod, nil
}

func (p *parser) parseConstDecl() (term.ConstDecl, error) {
	line := p.peek().line
	if err := p.expectIdent("const"); err != nil {
		return term.ConstDecl{}, err
	}
	nameTok, err := p.expect(tokIdent, "constant name")
	if err != nil {
		return term.ConstDecl{}, err
	}
	if _, err := p.expect(tokColon, "':'"); err != nil {
		return term.ConstDecl{}, err
	}
	typ, err := p.parseType()
	if err != nil {
		return term.ConstDecl{}, err
	}
	if _, err := p.expect(tokEq, "'='"); err != nil {
		return term.ConstDecl{}, err
	}
	cd := term.ConstDecl{Name: nameTok.text, Typ: typ, Line: line}
	t := p.next()
	switch t.kind {
	case tokString:
		s := t.text
		cd.Str = &s
	case tokNumber:
		cd.Number = t.num
	case tokIdent:
		if t.text != "true" && t.text != "false" {
			return term.ConstDecl{}, &LexError{t.line, fmt.Sprintf("invalid constant literal %q", t.text)}
		}
		cd.IsBool = true
		cd.Bool = t.text == "true"
	default:
		return term.ConstDecl{}, &LexError{t.line, "expected string, number or bool literal"}
	}
	return cd, nil
}

func (p *parser) parseFunction() (term.Function, error) {
	line := p.peek().line
	if err := p.expectIdent("fn"); err != nil {
		return term.Function{}, err
	}
	nameTok, err := p.expect(tokIdent, "function name")
	if err != nil {
		return term.Function{}, err
	}
	if _, err := p.expect(tokLParen, "'('"); err != nil {
		return term.Function{}, err
	}
	fn := term.Function{Name: nameTok.text, Line: line}
	for p.peek().kind != tokRParen {
		if _, err := p.expect(tokDollar, "'$'"); err != nil {
			return term.Function{}, err
		}
		vt, err := p.expect(tokNumber, "variable index")
		if err != nil {
			return term.Function{}, err
		}
		if _, err := p.expect(tokColon, "':'"); err != nil {
			return term.Function{}, err
		}
		pt, err := p.parseType()
		if err != nil {
			return term.Function{}, err
		}
		fn.Params = append(fn.Params, term.Param{Var: uint8(vt.num), Typ: pt})
		if p.peek().kind == tokComma {
			p.next()
		}
	}
	p.next() // ')'
	if _, err := p.expect(tokArrow, "'->'"); err != nil {
		return term.Function{}, err
	}
	result, err := p.parseType()
	if err != nil {
		return term.Function{}, err
	}
	fn.Result = result
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return term.Function{}, err
	}
	for p.peek().kind != tokRBrace {
		ins, err := p.parseInstr()
		if err != nil {
			return term.Function{}, err
		}
		fn.Instrs = append(fn.Instrs, ins)
	}
	p.next() // '}'
	return fn, nil
}

// parseInstr parses `(label ":")? dialect ":" opcode (operand,...)?`.
// Disambiguating an optional label from the mandatory dialect prefix
// requires two tokens of lookahead: "ident : ident :" means the first
// ident is a label, "ident : ident" (not followed by another colon)
// means the first ident is the dialect.
func (p *parser) parseInstr() (term.Instr, error) {
	line := p.peek().line
	first, err := p.expect(tokIdent, "label or dialect")
	if err != nil {
		return term.Instr{}, err
	}
	if _, err := p.expect(tokColon, "':'"); err != nil {
		return term.Instr{}, err
	}
	var label, dialect string
	var opcodeTok token
	if p.peek().kind == tokIdent && p.peekAt(1).kind == tokColon {
		label = first.text
		dialect = p.next().text
		p.next() // ':'
		opcodeTok, err = p.expect(tokIdent, "opcode")
		if err != nil {
			return term.Instr{}, err
		}
	} else {
		dialect = first.text
		opcodeTok, err = p.expect(tokIdent, "opcode")
		if err != nil {
			return term.Instr{}, err
		}
	}
	instr := term.Instr{Label: label, Dialect: dialect, Op: opcodeTok.text, Line: line}
	// Operands, if any, follow immediately: there is no terminator token
	// in this grammar, so an instruction ends where the next label/dialect
	// pair (an identifier followed by a colon) or the closing brace begins.
	for canStartOperand(p.peek().kind) {
		if p.peek().kind == tokIdent && p.peekAt(1).kind == tokColon {
			break // start of the next instruction, not an operand
		}
		op, err := p.parseOperand()
		if err != nil {
			return term.Instr{}, err
		}
		instr.Args = append(instr.Args, op)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	return instr, nil
}

func canStartOperand(k tokenKind) bool {
	switch k {
	case tokDollar, tokNumber, tokMinus, tokAt, tokLParen:
		return true
	case tokIdent, tokAmp, tokLBracket:
		// identifiers cover bools and leaf type names; & and [ open the
		// pointer and array type forms alloc/sizeof take as operands
		return true
	default:
		return false
	}
}

func (p *parser) parseOperand() (term.Operand, error) {
	t := p.peek()
	switch t.kind {
	case tokDollar:
		p.next()
		n, err := p.expect(tokNumber, "variable index")
		if err != nil {
			return term.Operand{}, err
		}
		return term.Operand{Kind: term.OpVar, Var: uint8(n.num)}, nil
	case tokMinus:
		p.next()
		n, err := p.expect(tokNumber, "number")
		if err != nil {
			return term.Operand{}, err
		}
		return term.Operand{Kind: term.OpNumber, Number: n.num, IsNeg: true}, nil
	case tokNumber:
		p.next()
		return term.Operand{Kind: term.OpNumber, Number: t.num}, nil
	case tokAt:
		p.next()
		segs, err := p.parseNameSegments()
		if err != nil {
			return term.Operand{}, err
		}
		return term.Operand{Kind: term.OpName, Segments: segs}, nil
	case tokIdent:
		if t.text == "true" || t.text == "false" {
			p.next()
			return term.Operand{Kind: term.OpBool, Bool: t.text == "true"}, nil
		}
		ty, err := p.parseType()
		if err != nil {
			return term.Operand{}, err
		}
		return term.Operand{Kind: term.OpType, Type: ty}, nil
	case tokAmp, tokLBracket:
		ty, err := p.parseType()
		if err != nil {
			return term.Operand{}, err
		}
		return term.Operand{Kind: term.OpType, Type: ty}, nil
	case tokLParen:
		p.next()
		var elems []term.Operand
		for p.peek().kind != tokRParen {
			op, err := p.parseOperand()
			if err != nil {
				return term.Operand{}, err
			}
			elems = append(elems, op)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return term.Operand{}, err
		}
		return term.Operand{Kind: term.OpTuple, Tuple: elems}, nil
	default:
		return term.Operand{}, &LexError{t.line, fmt.Sprintf("unexpected token %q in operand", t.text)}
	}
}

func (p *parser) parseNameSegments() ([]string, error) {
	first, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return nil, err
	}
	segs := []string{first.text}
	for p.peek().kind == tokColon && p.peekAt(1).kind == tokIdent {
		p.next()
		seg := p.next()
		segs = append(segs, seg.text)
	}
	return segs, nil
}

func (p *parser) parseType() (term.Type, error) {
	t := p.next()
	switch {
	case t.kind == tokIdent && t.text == "ui64":
		return term.Type{Kind: term.TUI64}, nil
	case t.kind == tokIdent && t.text == "bool":
		return term.Type{Kind: term.TBool}, nil
	case t.kind == tokIdent && t.text == "str":
		return term.Type{Kind: term.TStr}, nil
	case t.kind == tokIdent && t.text == "_":
		return term.Type{Kind: term.TAny}, nil
	case t.kind == tokAmp:
		elem, err := p.parseType()
		if err != nil {
			return term.Type{}, err
		}
		return term.Type{Kind: term.TPointer, Elem: &elem}, nil
	case t.kind == tokLBracket:
		elem, err := p.parseType()
		if err != nil {
			return term.Type{}, err
		}
		ty := term.Type{Kind: term.TArray, Elem: &elem}
		if p.peek().kind == tokSemi {
			p.next()
			n, err := p.expect(tokNumber, "array length")
			if err != nil {
				return term.Type{}, err
			}
			ty.Sized, ty.N = true, n.num
		}
		if _, err := p.expect(tokRBracket, "']'"); err != nil {
			return term.Type{}, err
		}
		return ty, nil
	case t.kind == tokLParen:
		if p.peek().kind == tokRParen {
			p.next()
			return term.Type{Kind: term.TUnit}, nil
		}
		first, err := p.parseType()
		if err != nil {
			return term.Type{}, err
		}
		if p.peek().kind == tokArrow {
			p.next()
			out, err := p.parseType()
			if err != nil {
				return term.Type{}, err
			}
			if _, err := p.expect(tokRParen, "')'"); err != nil {
				return term.Type{}, err
			}
			return term.Type{Kind: term.TFn, In: &first, Out: &out}, nil
		}
		elems := []term.Type{first}
		for p.peek().kind == tokComma {
			p.next()
			e, err := p.parseType()
			if err != nil {
				return term.Type{}, err
			}
			elems = append(elems, e)
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return term.Type{}, err
		}
		return term.Type{Kind: term.TTuple, Elems: elems}, nil
	default:
		return term.Type{}, &LexError{t.line, fmt.Sprintf("expected a type, got %q", t.text)}
	}
}
