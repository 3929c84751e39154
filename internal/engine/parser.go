package engine

import (
	"strconv"

	"github.com/proximadb/proximadb/internal/types"
)

// parser walks a flat token slice with one parseX method per statement
// kind, over real tokens rather than re-splitting a whitespace-joined
// string at every step.
type parser struct {
	toks []token
	pos  int
}

func Parse(sql string) (Statement, error) {
	toks, err := tokenize(sql)
	if err != nil {
		return nil, types.WrapError(types.ErrParse, err, "tokenize statement")
	}
	if len(toks) == 0 {
		return nil, types.NewError(types.ErrParse, "empty statement")
	}
	p := &parser{toks: toks}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, types.WrapError(types.ErrParse, err, "parse statement")
	}
	if p.pos != len(p.toks) {
		return nil, types.NewError(types.ErrParse, "unexpected trailing tokens near %q", p.cur().text)
	}
	return stmt, nil
}

func (p *parser) cur() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	t := p.cur()
	p.pos++
	return t
}

func (p *parser) expectKeyword(kw string) error {
	if upperKeyword(p.cur()) != kw {
		return types.NewError(types.ErrParse, "expected %q, got %q", kw, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) expectPunct(text string) error {
	if p.cur().kind != tokPunct || p.cur().text != text {
		return types.NewError(types.ErrParse, "expected %q, got %q", text, p.cur().text)
	}
	p.advance()
	return nil
}

func (p *parser) expectIdent() (string, error) {
	if p.cur().kind != tokIdent {
		return "", types.NewError(types.ErrParse, "expected identifier, got %q", p.cur().text)
	}
	return p.advance().text, nil
}

func (p *parser) expectString() (string, error) {
	if p.cur().kind != tokString {
		return "", types.NewError(types.ErrParse, "expected string literal, got %q", p.cur().text)
	}
	return p.advance().text, nil
}

func (p *parser) parseStatement() (Statement, error) {
	switch upperKeyword(p.cur()) {
	case "CREATE":
		p.advance()
		if upperKeyword(p.cur()) == "MULTIMEDIA" {
			p.advance()
			return p.parseCreateMultimediaTable()
		}
		return p.parseCreateTable()
	case "SELECT":
		p.advance()
		return p.parseSelect()
	case "INSERT":
		p.advance()
		return p.parseInsert()
	case "DELETE":
		p.advance()
		return p.parseDelete()
	default:
		return nil, types.NewError(types.ErrParse, "unsupported statement keyword %q", p.cur().text)
	}
}

// parseCreateTable parses:
// CREATE TABLE name FROM FILE "path" USING INDEX kind(field[, field…])
func (p *parser) parseCreateTable() (Statement, error) {
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FILE"); err != nil {
		return nil, err
	}
	path, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("USING"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INDEX"); err != nil {
		return nil, err
	}
	kindTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	kind := types.IndexKind(toLowerASCII(kindTok))
	if !kind.IsValid() {
		return nil, types.NewError(types.ErrParse, "unknown index kind %q", kindTok)
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var fields []string
	for {
		f, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		if p.cur().kind == tokPunct && p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &CreateTableStmt{Table: name, FilePath: path, IndexKind: kind, Fields: fields}, nil
}

// parseCreateMultimediaTable parses:
// CREATE MULTIMEDIA TABLE name FROM FILE "path" USING {image|audio} WITH METHOD m CLUSTERS k
func (p *parser) parseCreateMultimediaTable() (Statement, error) {
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FILE"); err != nil {
		return nil, err
	}
	path, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("USING"); err != nil {
		return nil, err
	}
	mediaTok, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	media := types.MediaKind(toLowerASCII(mediaTok))
	if media != types.MediaKindImage && media != types.MediaKindAudio {
		return nil, types.NewError(types.ErrParse, "unknown media kind %q", mediaTok)
	}
	if err := p.expectKeyword("WITH"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("METHOD"); err != nil {
		return nil, err
	}
	method, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("CLUSTERS"); err != nil {
		return nil, err
	}
	kTok := p.advance()
	if kTok.kind != tokNumber {
		return nil, types.NewError(types.ErrParse, "expected CLUSTERS count, got %q", kTok.text)
	}
	clusters, err := strconv.Atoi(kTok.text)
	if err != nil {
		return nil, types.WrapError(types.ErrParse, err, "parse CLUSTERS count")
	}
	return &CreateMultimediaTableStmt{Table: name, FilePath: path, Media: media, Method: method, Clusters: clusters}, nil
}

// parseSelect parses:
// SELECT fieldlist FROM name [WHERE predicate] [LIMIT n]
func (p *parser) parseSelect() (Statement, error) {
	var fields []string
	if p.cur().kind == tokPunct && p.cur().text == "*" {
		p.advance()
	} else {
		for {
			f, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			if p.cur().kind == tokPunct && p.cur().text == "," {
				p.advance()
				continue
			}
			break
		}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	stmt := &SelectStmt{Table: table, Fields: fields, Limit: 10}
	if upperKeyword(p.cur()) == "WHERE" {
		p.advance()
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		stmt.Predicate = pred
	}
	if upperKeyword(p.cur()) == "LIMIT" {
		p.advance()
		n := p.advance()
		if n.kind != tokNumber {
			return nil, types.NewError(types.ErrParse, "expected LIMIT count, got %q", n.text)
		}
		lim, err := strconv.Atoi(n.text)
		if err != nil {
			return nil, types.WrapError(types.ErrParse, err, "parse LIMIT count")
		}
		stmt.Limit = lim
	}
	return stmt, nil
}

// parsePredicate parses one of: f = v | f BETWEEN a AND b |
// f IN ("lat,lon", r) | f @@ "query" | f <-> "path" [METHOD m]
func (p *parser) parsePredicate() (Predicate, error) {
	field, err := p.expectIdent()
	if err != nil {
		return Predicate{}, err
	}
	pred := Predicate{Field: field}

	switch {
	case p.cur().kind == tokPunct && p.cur().text == "=":
		p.advance()
		v, err := p.parseValueLiteral()
		if err != nil {
			return Predicate{}, err
		}
		pred.HasEq, pred.Eq = true, v
	case upperKeyword(p.cur()) == "BETWEEN":
		p.advance()
		lo, err := p.parseValueLiteral()
		if err != nil {
			return Predicate{}, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return Predicate{}, err
		}
		hi, err := p.parseValueLiteral()
		if err != nil {
			return Predicate{}, err
		}
		pred.HasBetween, pred.Lo, pred.Hi = true, lo, hi
	case upperKeyword(p.cur()) == "IN":
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return Predicate{}, err
		}
		coords, err := p.expectString()
		if err != nil {
			return Predicate{}, err
		}
		if err := p.expectPunct(","); err != nil {
			return Predicate{}, err
		}
		rTok := p.advance()
		if rTok.kind != tokNumber {
			return Predicate{}, types.NewError(types.ErrParse, "expected radius/k, got %q", rTok.text)
		}
		if err := p.expectPunct(")"); err != nil {
			return Predicate{}, err
		}
		pred.HasIn, pred.Coords = true, coords
		if isIntegerLiteral(rTok.text) {
			pred.IsKNN = true
			k, err := strconv.Atoi(rTok.text)
			if err != nil {
				return Predicate{}, types.WrapError(types.ErrParse, err, "parse kNN count")
			}
			pred.K = k
		} else {
			r, err := strconv.ParseFloat(rTok.text, 64)
			if err != nil {
				return Predicate{}, types.WrapError(types.ErrParse, err, "parse radius")
			}
			pred.Radius = r
		}
	case p.cur().kind == tokPunct && p.cur().text == "@@":
		p.advance()
		q, err := p.expectString()
		if err != nil {
			return Predicate{}, err
		}
		pred.HasText, pred.Query = true, q
	case p.cur().kind == tokPunct && p.cur().text == "<->":
		p.advance()
		path, err := p.expectString()
		if err != nil {
			return Predicate{}, err
		}
		pred.HasSimilarity, pred.AssetPath = true, path
		pred.Method = "inverted"
		if upperKeyword(p.cur()) == "METHOD" {
			p.advance()
			m, err := p.expectIdent()
			if err != nil {
				return Predicate{}, err
			}
			pred.Method = toLowerASCII(m)
		}
	default:
		return Predicate{}, types.NewError(types.ErrParse, "unrecognized predicate operator near %q", p.cur().text)
	}

	return pred, nil
}

// parseValueLiteral accepts a bare number, a bare identifier (taken as
// its text) or a quoted string.
func (p *parser) parseValueLiteral() (string, error) {
	t := p.cur()
	switch t.kind {
	case tokNumber, tokIdent:
		p.advance()
		return t.text, nil
	case tokString:
		p.advance()
		return t.text, nil
	default:
		return "", types.NewError(types.ErrParse, "expected a value literal, got %q", t.text)
	}
}

// parseInsert parses:
// INSERT INTO name VALUES (…) | INSERT INTO name GENERATE_DATA(n)
func (p *parser) parseInsert() (Statement, error) {
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if upperKeyword(p.cur()) == "GENERATE_DATA" {
		p.advance()
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		nTok := p.advance()
		if nTok.kind != tokNumber {
			return nil, types.NewError(types.ErrParse, "expected GENERATE_DATA count, got %q", nTok.text)
		}
		n, err := strconv.Atoi(nTok.text)
		if err != nil {
			return nil, types.WrapError(types.ErrParse, err, "parse GENERATE_DATA count")
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return &InsertStmt{Table: table, GenerateData: n}, nil
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var values []string
	for {
		v, err := p.parseValueLiteral()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.cur().kind == tokPunct && p.cur().text == "," {
			p.advance()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &InsertStmt{Table: table, Values: values}, nil
}

// parseDelete parses: DELETE FROM name WHERE f = v
func (p *parser) parseDelete() (Statement, error) {
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	pred, err := p.parsePredicate()
	if err != nil {
		return nil, err
	}
	return &DeleteStmt{Table: table, Predicate: pred}, nil
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func isIntegerLiteral(s string) bool {
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			return false
		}
	}
	return true
}
