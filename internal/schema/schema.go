// Package schema parses RFC 4512 objectClass/attributeType descriptions and
// computes the MUST/MAY attribute closure (the "entroid") that the printer
// uses to annotate entries (§4.4 of SPEC_FULL.md).
package schema

import (
	"strings"

	"github.com/emicklei/dot"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
)

var foldCase = cases.Fold()

func foldKey(s string) string {
	return foldCase.String(s)
}

// ObjectClassKind is the STRUCTURAL/ABSTRACT/AUXILIARY discriminator.
type ObjectClassKind int

const (
	Structural ObjectClassKind = iota
	Abstract
	Auxiliary
)

// ObjectClass is a parsed RFC 4512 ObjectClassDescription.
type ObjectClass struct {
	OID   string
	Names []string
	Sup   []string
	Kind  ObjectClassKind
	Must  []string
	May   []string
}

// Name returns the first NAME, falling back to the OID.
func (c *ObjectClass) Name() string {
	if len(c.Names) > 0 {
		return c.Names[0]
	}
	return c.OID
}

// AttributeType is a parsed RFC 4512 AttributeTypeDescription.
type AttributeType struct {
	OID   string
	Names []string
}

// Name returns the first NAME, falling back to the OID.
func (a *AttributeType) Name() string {
	if len(a.Names) > 0 {
		return a.Names[0]
	}
	return a.OID
}

// ---------------------------------------------------------------------------
// Tokenizer
// ---------------------------------------------------------------------------

type tokenizer struct {
	input string
	pos   int
}

func newTokenizer(s string) *tokenizer {
	return &tokenizer{input: s}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (t *tokenizer) skipWhitespace() {
	for t.pos < len(t.input) && isSpace(t.input[t.pos]) {
		t.pos++
	}
}

// next returns the next token, or "" with ok=false at end of input.
func (t *tokenizer) next() (string, bool) {
	t.skipWhitespace()
	if t.pos >= len(t.input) {
		return "", false
	}
	b := t.input[t.pos]
	switch b {
	case '(', ')', '$':
		t.pos++
		return string(b), true
	case '\'':
		t.pos++
		start := t.pos
		for t.pos < len(t.input) && t.input[t.pos] != '\'' {
			t.pos++
		}
		s := t.input[start:t.pos]
		if t.pos < len(t.input) {
			t.pos++
		}
		return s, true
	default:
		start := t.pos
		for t.pos < len(t.input) {
			c := t.input[t.pos]
			if isSpace(c) || c == '(' || c == ')' || c == '\'' || c == '$' {
				break
			}
			t.pos++
		}
		return t.input[start:t.pos], true
	}
}

// readOIDList reads either a single value or a parenthesized "$"-separated list.
func (t *tokenizer) readOIDList() []string {
	t.skipWhitespace()
	if t.pos < len(t.input) && t.input[t.pos] == '(' {
		t.next() // consume '('
		var result []string
		for {
			tok, ok := t.next()
			if !ok || tok == ")" {
				break
			}
			if tok == "$" {
				continue
			}
			result = append(result, tok)
		}
		return result
	}
	if tok, ok := t.next(); ok && tok != ")" {
		return []string{tok}
	}
	return nil
}

// skipValue discards the next token or parenthesized group, used for
// unrecognized keywords.
func (t *tokenizer) skipValue() {
	t.skipWhitespace()
	if t.pos < len(t.input) && t.input[t.pos] == '(' {
		t.next()
		depth := 1
		for depth > 0 {
			tok, ok := t.next()
			if !ok {
				break
			}
			switch tok {
			case "(":
				depth++
			case ")":
				depth--
			}
		}
		return
	}
	if t.pos < len(t.input) && t.input[t.pos] == '\'' {
		t.next()
		return
	}
	saved := t.pos
	if tok, ok := t.next(); ok {
		if tok == ")" || isKeywordLike(tok) {
			t.pos = saved
		}
	}
}

func isKeywordLike(tok string) bool {
	if tok == "" {
		return false
	}
	for _, c := range tok {
		if !(c >= 'A' && c <= 'Z') && c != '-' {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// RFC 4512 parsers
// ---------------------------------------------------------------------------

// ParseObjectClass parses an RFC 4512 ObjectClassDescription.
func ParseObjectClass(s string) (*ObjectClass, error) {
	t := newTokenizer(s)
	if tok, ok := t.next(); !ok || tok != "(" {
		return nil, errors.New("schema: expected '(' in objectclass description")
	}
	oid, ok := t.next()
	if !ok {
		return nil, errors.New("schema: expected OID in objectclass description")
	}

	cls := &ObjectClass{OID: oid, Kind: Structural}
	for {
		keyword, ok := t.next()
		if !ok || keyword == ")" {
			break
		}
		switch keyword {
		case "NAME":
			cls.Names = t.readOIDList()
		case "SUP":
			cls.Sup = t.readOIDList()
		case "ABSTRACT":
			cls.Kind = Abstract
		case "STRUCTURAL":
			cls.Kind = Structural
		case "AUXILIARY":
			cls.Kind = Auxiliary
		case "MUST":
			cls.Must = t.readOIDList()
		case "MAY":
			cls.May = t.readOIDList()
		default:
			t.skipValue()
		}
	}
	return cls, nil
}

// ParseAttributeType parses an RFC 4512 AttributeTypeDescription.
func ParseAttributeType(s string) (*AttributeType, error) {
	t := newTokenizer(s)
	if tok, ok := t.next(); !ok || tok != "(" {
		return nil, errors.New("schema: expected '(' in attributetype description")
	}
	oid, ok := t.next()
	if !ok {
		return nil, errors.New("schema: expected OID in attributetype description")
	}

	at := &AttributeType{OID: oid}
	for {
		keyword, ok := t.next()
		if !ok || keyword == ")" {
			break
		}
		if keyword == "NAME" {
			at.Names = t.readOIDList()
		} else {
			t.skipValue()
		}
	}
	return at, nil
}

// ---------------------------------------------------------------------------
// Schema — case-insensitive lookup tables
// ---------------------------------------------------------------------------

// Schema is a case-insensitive (ASCII-folded) store of objectClasses and
// attributeTypes, indexed by both OID and every NAME alias.
type Schema struct {
	classes map[string]*ObjectClass
	types   map[string]*AttributeType
}

// New returns an empty schema store.
func New() *Schema {
	return &Schema{
		classes: make(map[string]*ObjectClass),
		types:   make(map[string]*AttributeType),
	}
}

// AddObjectClass registers cls under its OID and every NAME.
func (s *Schema) AddObjectClass(cls *ObjectClass) {
	s.classes[foldKey(cls.OID)] = cls
	for _, name := range cls.Names {
		s.classes[foldKey(name)] = cls
	}
}

// AddAttributeType registers at under its OID and every NAME.
func (s *Schema) AddAttributeType(at *AttributeType) {
	s.types[foldKey(at.OID)] = at
	for _, name := range at.Names {
		s.types[foldKey(name)] = at
	}
}

func (s *Schema) GetObjectClass(name string) (*ObjectClass, bool) {
	cls, ok := s.classes[foldKey(name)]
	return cls, ok
}

func (s *Schema) GetAttributeType(name string) (*AttributeType, bool) {
	at, ok := s.types[foldKey(name)]
	return at, ok
}

// ---------------------------------------------------------------------------
// Entroid — computed MUST/MAY attributes for a set of objectClasses
// ---------------------------------------------------------------------------

// Entroid accumulates the MUST/MAY attribute closure for a set of requested
// objectClasses, tracking the (at most one) structural class and any
// schema-violation trace for display alongside a printed entry.
type Entroid struct {
	schema     *Schema
	Classes    []*ObjectClass
	Must       []*AttributeType
	May        []*AttributeType
	Structural *ObjectClass
	Comment    string
	Error      string
}

// NewEntroid returns an empty entroid bound to schema.
func NewEntroid(schema *Schema) *Entroid {
	return &Entroid{schema: schema}
}

// Reset clears all accumulated state so the entroid can be reused for the
// next entry.
func (e *Entroid) Reset() {
	e.Classes = nil
	e.Must = nil
	e.May = nil
	e.Structural = nil
	e.Comment = ""
	e.Error = ""
}

func (e *Entroid) getObjectClass(name string) *ObjectClass {
	cls, ok := e.schema.GetObjectClass(name)
	if !ok {
		e.Error += "Unknown objectClass: " + name + "\n"
		return nil
	}
	return cls
}

func (e *Entroid) getAttributeType(name string) *AttributeType {
	at, ok := e.schema.GetAttributeType(name)
	if !ok {
		e.Error += "Unknown attributeType: " + name + "\n"
		return nil
	}
	return at
}

// RequestClass adds name's objectClass to the entroid's worklist,
// deduplicating by pointer identity.
func (e *Entroid) RequestClass(name string) *ObjectClass {
	cls := e.getObjectClass(name)
	if cls == nil {
		return nil
	}
	for _, c := range e.Classes {
		if c == cls {
			return cls
		}
	}
	e.Classes = append(e.Classes, cls)
	return cls
}

// Compute walks the requested classes (and their superclasses, added as
// they're discovered) and fills in Must, May and Structural.
func (e *Entroid) Compute() error {
	for i := 0; i < len(e.Classes); i++ {
		if err := e.computeOne(e.Classes[i]); err != nil {
			return err
		}
	}
	if e.Structural == nil {
		e.Comment += "### WARNING: no structural object class\n"
	}
	return nil
}

func (e *Entroid) computeOne(cls *ObjectClass) error {
	for _, supName := range cls.Sup {
		if e.RequestClass(supName) == nil {
			return errors.Errorf("schema: superclass not found: %s", supName)
		}
	}

	if cls.Kind == Structural {
		if e.Structural != nil {
			e.Comment += "### WARNING: extra structural object class: " + cls.Name() + "\n"
		} else {
			e.Comment += "# structural object class: " + cls.Name() + "\n"
			e.Structural = cls
		}
	}

	for _, attrName := range cls.Must {
		at := e.getAttributeType(attrName)
		if at == nil {
			return errors.Errorf("schema: attribute type not found: %s", attrName)
		}
		e.removePtr(&e.May, at)
		if !containsPtr(e.Must, at) {
			e.Must = append(e.Must, at)
		}
	}

	for _, attrName := range cls.May {
		at := e.getAttributeType(attrName)
		if at == nil {
			return errors.Errorf("schema: attribute type not found: %s", attrName)
		}
		if !containsPtr(e.Must, at) {
			e.May = append(e.May, at)
		}
	}

	return nil
}

func containsPtr(list []*AttributeType, at *AttributeType) bool {
	for _, m := range list {
		if m == at {
			return true
		}
	}
	return false
}

func (e *Entroid) removePtr(list *[]*AttributeType, at *AttributeType) {
	out := (*list)[:0]
	for _, m := range *list {
		if m != at {
			out = append(out, m)
		}
	}
	*list = out
}

// RemoveAD removes an attribute descriptor from Must or May, stripping any
// ";option" suffix first (e.g. "cn;binary" matches "cn"). Reports whether the
// attribute was present.
func (e *Entroid) RemoveAD(ad string) bool {
	baseName := ad
	if idx := strings.IndexByte(ad, ';'); idx >= 0 {
		baseName = ad[:idx]
	}

	at, ok := e.schema.GetAttributeType(baseName)
	if !ok {
		return false
	}

	mustLen := len(e.Must)
	e.removePtr(&e.Must, at)
	if len(e.Must) < mustLen {
		return true
	}

	mayLen := len(e.May)
	e.removePtr(&e.May, at)
	return len(e.May) < mayLen
}

// ---------------------------------------------------------------------------
// Graph rendering
// ---------------------------------------------------------------------------

// RenderGraph renders the schema's objectClass inheritance graph as a
// Graphviz DOT document, one node per known class and one edge per SUP
// relationship. Used by the --schema-graph CLI flag (SPEC_FULL.md §6.3).
func RenderGraph(s *Schema) string {
	g := dot.NewGraph(dot.Directed)
	nodes := make(map[string]dot.Node)

	seen := make(map[*ObjectClass]bool)
	for _, cls := range s.classes {
		if seen[cls] {
			continue
		}
		seen[cls] = true
		n, ok := nodes[cls.Name()]
		if !ok {
			n = g.Node(cls.Name())
			nodes[cls.Name()] = n
		}
		switch cls.Kind {
		case Abstract:
			n.Attr("style", "dashed")
		case Auxiliary:
			n.Attr("shape", "diamond")
		}
	}
	for cls := range seen {
		from := nodes[cls.Name()]
		for _, supName := range cls.Sup {
			to, ok := nodes[supName]
			if !ok {
				to = g.Node(supName)
				nodes[supName] = to
			}
			g.Edge(from, to)
		}
	}
	return g.String()
}
