// Package ldif implements the RFC 2849 LDIF stream parser (§4.1.1 of
// SPEC_FULL.md), extended only by the ldapvi-key pseudo-attribute.
package ldif

import (
	"bytes"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/ldapvi/ldapvi/internal/codec"
	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/record"
)

// Parser streams LDIF records out of an in-memory byte buffer. The buffer is
// read fully up front so that Tell/Seek can address exact byte offsets
// without re-deriving them from a non-seekable reader.
type Parser struct {
	data []byte
	pos  int64
}

// New wraps data for parsing, skipping a leading "version: 1" header line
// if present.
func New(data []byte) *Parser {
	p := &Parser{data: data}
	p.skipVersionHeader()
	return p
}

func (p *Parser) skipVersionHeader() {
	line, next, ok := readFoldedLine(p.data, 0)
	if ok && strings.HasPrefix(strings.TrimSpace(line), "version:") {
		p.pos = next
	}
}

func (p *Parser) Tell() int64 { return p.pos }

func (p *Parser) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(p.data)) {
		return record.NewParseError(p.pos, "seek out of range")
	}
	p.pos = pos
	return nil
}

func (p *Parser) ReadRaw(buf []byte) (int, error) {
	n := copy(buf, p.data[p.pos:])
	p.pos += int64(n)
	return n, nil
}

// --- low level line handling -------------------------------------------------

// physicalLine returns the raw bytes of one physical line starting at pos
// (trailing CR/LF stripped) and the position right after its newline (or
// EOF).
func physicalLine(data []byte, pos int64) ([]byte, int64) {
	if pos >= int64(len(data)) {
		return nil, pos
	}
	rest := data[pos:]
	idx := bytes.IndexByte(rest, '\n')
	var raw []byte
	var next int64
	if idx < 0 {
		raw = rest
		next = int64(len(data))
	} else {
		raw = rest[:idx]
		next = pos + int64(idx) + 1
	}
	if len(raw) > 0 && raw[len(raw)-1] == '\r' {
		raw = raw[:len(raw)-1]
	}
	return raw, next
}

// readFoldedLine assembles one logical (folded) line starting at pos: the
// first physical line plus any immediately-following continuation lines
// (exactly one leading SP, which is not part of the value).
func readFoldedLine(data []byte, pos int64) (string, int64, bool) {
	if pos >= int64(len(data)) {
		return "", pos, false
	}
	first, next := physicalLine(data, pos)
	var sb strings.Builder
	sb.Write(first)
	pos = next
	for pos < int64(len(data)) && data[pos] == ' ' {
		cont, next2 := physicalLine(data, pos)
		sb.Write(cont[1:])
		pos = next2
	}
	return sb.String(), pos, true
}

// skipBlankAndComments advances pos past blank logical lines and comment
// ("#") logical lines, returning the position of the next real content line
// (or EOF).
func skipBlankAndComments(data []byte, pos int64) int64 {
	for {
		line, next, ok := readFoldedLine(data, pos)
		if !ok {
			return pos
		}
		if line == "" || strings.HasPrefix(line, "#") {
			pos = next
			continue
		}
		return pos
	}
}

// --- value decoding -----------------------------------------------------

// splitAttrLine parses "ad: value" / "ad:: base64" / "ad:< file://path",
// returning the attribute name and decoded value bytes.
func splitAttrLine(line string, pos int64) (ad string, value []byte, err error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", nil, record.NewParseError(pos, "expected ':' in %q", line)
	}
	ad = line[:colon]
	if ad == "" {
		return "", nil, record.NewParseError(pos, "empty attribute name")
	}
	rest := line[colon+1:]
	switch {
	case strings.HasPrefix(rest, ":"):
		b64 := strings.TrimSpace(rest[1:])
		decoded, ok := codec.DecodeBase64(b64)
		if !ok {
			return "", nil, record.NewParseError(pos, "invalid base64 for %s", ad)
		}
		return ad, decoded, nil
	case strings.HasPrefix(rest, "<"):
		uri := strings.TrimSpace(rest[1:])
		if !strings.HasPrefix(uri, "file://") {
			return "", nil, record.NewParseError(pos, "unsupported URL scheme in %q", uri)
		}
		path := strings.TrimPrefix(uri, "file://")
		data, ferr := ioutil.ReadFile(path)
		if ferr != nil {
			return "", nil, record.NewParseError(pos, "reading %s: %v", path, ferr)
		}
		return ad, data, nil
	default:
		v := rest
		if strings.HasPrefix(v, " ") {
			v = v[1:]
		}
		return ad, []byte(v), nil
	}
}

// --- record header: dn + key determination -------------------------------

type header struct {
	recordStart int64 // position of the "dn:" line
	dn          string
	key         record.Key
	bodyStart   int64 // position right after the metadata line(s)
}

func (p *Parser) readHeader(pos int64) (*header, error) {
	pos = skipBlankAndComments(p.data, pos)
	if pos >= int64(len(p.data)) {
		return nil, record.ErrEnd
	}
	recordStart := pos
	line, next, ok := readFoldedLine(p.data, pos)
	if !ok {
		return nil, record.ErrEnd
	}
	dn, err := parseDNLine(line, pos)
	if err != nil {
		return nil, err
	}
	pos = next

	// second line determines the key
	secondPos := pos
	second, next2, ok := readFoldedLine(p.data, pos)
	if !ok {
		// dn with no body at all: implicit add, empty entry.
		return &header{recordStart: recordStart, dn: dn, key: record.Key{Kind: record.KindAdd}, bodyStart: pos}, nil
	}

	switch {
	case strings.HasPrefix(second, "changetype:"):
		ct := strings.TrimSpace(strings.TrimPrefix(second, "changetype:"))
		var kind record.Kind
		switch ct {
		case "add":
			kind = record.KindAdd
		case "delete":
			kind = record.KindDelete
		case "modify":
			kind = record.KindModify
		case "modrdn", "moddn":
			kind = record.KindRename
		default:
			return nil, record.NewParseError(secondPos, "unknown changetype %q", ct)
		}
		return &header{recordStart: recordStart, dn: dn, key: record.Key{Kind: kind}, bodyStart: next2}, nil

	case strings.HasPrefix(second, "ldapvi-key:"):
		label := strings.TrimSpace(strings.TrimPrefix(second, "ldapvi-key:"))
		if _, err := strconv.Atoi(label); err != nil {
			return nil, record.NewParseError(secondPos, "invalid ldapvi-key %q", label)
		}
		return &header{recordStart: recordStart, dn: dn, key: record.Key{Kind: record.KindNumbered, Label: label}, bodyStart: next2}, nil

	case strings.HasPrefix(second, "control:"):
		return nil, record.NewParseError(secondPos, "control: is not supported")

	default:
		// implicit add: second line belongs to the entry body.
		return &header{recordStart: recordStart, dn: dn, key: record.Key{Kind: record.KindAdd}, bodyStart: pos}, nil
	}
}

func parseDNLine(line string, pos int64) (string, error) {
	if strings.HasPrefix(line, "dn::") {
		b64 := strings.TrimSpace(line[len("dn::"):])
		decoded, ok := codec.DecodeBase64(b64)
		if !ok {
			return "", record.NewParseError(pos, "invalid base64 dn")
		}
		dn := string(decoded)
		if !strings.Contains(dn, "=") {
			return "", record.NewParseError(pos, "invalid distinguished name string")
		}
		return dn, nil
	}
	if strings.HasPrefix(line, "dn:") {
		v := strings.TrimPrefix(line, "dn:")
		if strings.HasPrefix(v, " ") {
			v = v[1:]
		}
		if !strings.Contains(v, "=") {
			return "", record.NewParseError(pos, "invalid distinguished name string")
		}
		return v, nil
	}
	return "", record.NewParseError(pos, "expected dn: line, got %q", line)
}

// --- Parser contract ------------------------------------------------------

func (p *Parser) PeekEntry(offset *int64) (record.Key, int64, error) {
	pos := p.pos
	if offset != nil {
		pos = *offset
	}
	h, err := p.readHeader(pos)
	if err != nil {
		return record.Key{}, 0, err
	}
	p.pos = h.recordStart
	return h.key, h.recordStart, nil
}

func (p *Parser) SkipEntry(offset *int64) (record.Key, error) {
	pos := p.pos
	if offset != nil {
		pos = *offset
	}
	h, err := p.readHeader(pos)
	if err != nil {
		return record.Key{}, err
	}
	end := skipToBlankOrEOF(p.data, h.bodyStart)
	p.pos = end
	return h.key, nil
}

func skipToBlankOrEOF(data []byte, pos int64) int64 {
	for {
		line, next, ok := readFoldedLine(data, pos)
		if !ok {
			return pos
		}
		if line == "" {
			return next
		}
		pos = next
	}
}

func (p *Parser) ReadEntry(offset *int64) (record.Key, *model.Entry, int64, error) {
	pos := p.pos
	if offset != nil {
		pos = *offset
	}
	h, err := p.readHeader(pos)
	if err != nil {
		return record.Key{}, nil, 0, err
	}
	if h.key.Kind != record.KindAdd && h.key.Kind != record.KindNumbered {
		return record.Key{}, nil, 0, record.NewParseError(h.recordStart, "not an entry record: %s", h.key)
	}

	entry := model.NewEntry(h.dn)
	cursor := h.bodyStart
	for {
		line, next, ok := readFoldedLine(p.data, cursor)
		if !ok {
			cursor = next
			break
		}
		if line == "" {
			cursor = next
			break
		}
		if strings.HasPrefix(line, "#") {
			cursor = next
			continue
		}
		ad, value, err := splitAttrLine(line, cursor)
		if err != nil {
			return record.Key{}, nil, 0, err
		}
		entry.FindAttribute(ad, true).AppendValue(value)
		cursor = next
	}
	p.pos = cursor
	return h.key, entry, h.recordStart, nil
}

func (p *Parser) ReadDelete(offset *int64) (string, error) {
	pos := p.pos
	if offset != nil {
		pos = *offset
	}
	h, err := p.readHeader(pos)
	if err != nil {
		return "", err
	}
	if h.key.Kind != record.KindDelete {
		return "", record.NewParseError(h.recordStart, "not a delete record")
	}
	p.pos = skipToBlankOrEOF(p.data, h.bodyStart)
	return h.dn, nil
}

func (p *Parser) ReadRename(offset *int64) (*model.RenameRecord, error) {
	pos := p.pos
	if offset != nil {
		pos = *offset
	}
	h, err := p.readHeader(pos)
	if err != nil {
		return nil, err
	}
	if h.key.Kind != record.KindRename {
		return nil, record.NewParseError(h.recordStart, "not a rename record")
	}

	var newRDN, newSuperior string
	haveNewSuperior := false
	var deleteOldRDN bool
	haveDeleteOldRDN := false

	cursor := h.bodyStart
	for {
		line, next, ok := readFoldedLine(p.data, cursor)
		if !ok {
			cursor = next
			break
		}
		if line == "" {
			cursor = next
			break
		}
		switch {
		case strings.HasPrefix(line, "newrdn:"):
			newRDN = strings.TrimSpace(strings.TrimPrefix(line, "newrdn:"))
		case strings.HasPrefix(line, "deleteoldrdn:"):
			v := strings.TrimSpace(strings.TrimPrefix(line, "deleteoldrdn:"))
			if v != "0" && v != "1" {
				return nil, record.NewParseError(cursor, "deleteoldrdn must be 0 or 1, got %q", v)
			}
			deleteOldRDN = v == "1"
			haveDeleteOldRDN = true
		case strings.HasPrefix(line, "newsuperior:"):
			newSuperior = strings.TrimSpace(strings.TrimPrefix(line, "newsuperior:"))
			haveNewSuperior = true
		default:
			return nil, record.NewParseError(cursor, "unexpected line in modrdn record: %q", line)
		}
		cursor = next
	}
	p.pos = cursor

	if newRDN == "" {
		return nil, record.NewParseError(h.recordStart, "modrdn record missing newrdn")
	}
	if !haveDeleteOldRDN {
		return nil, record.NewParseError(h.recordStart, "modrdn record missing deleteoldrdn")
	}

	newDN := newRDN
	if haveNewSuperior {
		if newSuperior != "" {
			newDN = newRDN + "," + newSuperior
		}
	} else {
		if idx := strings.IndexByte(h.dn, ','); idx >= 0 {
			newDN = newRDN + h.dn[idx:]
		}
	}

	return &model.RenameRecord{OldDN: h.dn, NewDN: newDN, DeleteOldRDN: deleteOldRDN}, nil
}

func (p *Parser) ReadModify(offset *int64) (*model.ModifyRecord, error) {
	pos := p.pos
	if offset != nil {
		pos = *offset
	}
	h, err := p.readHeader(pos)
	if err != nil {
		return nil, err
	}
	if h.key.Kind != record.KindModify {
		return nil, record.NewParseError(h.recordStart, "not a modify record")
	}

	var mods []model.LdapMod
	cursor := h.bodyStart
	for {
		line, next, ok := readFoldedLine(p.data, cursor)
		if !ok {
			cursor = next
			break
		}
		if line == "" {
			cursor = next
			break
		}

		var op model.ModOp
		var attr string
		switch {
		case strings.HasPrefix(line, "add:"):
			op, attr = model.ModAdd, strings.TrimSpace(strings.TrimPrefix(line, "add:"))
		case strings.HasPrefix(line, "delete:"):
			op, attr = model.ModDelete, strings.TrimSpace(strings.TrimPrefix(line, "delete:"))
		case strings.HasPrefix(line, "replace:"):
			op, attr = model.ModReplace, strings.TrimSpace(strings.TrimPrefix(line, "replace:"))
		default:
			return nil, record.NewParseError(cursor, "expected add:/delete:/replace:, got %q", line)
		}
		cursor = next

		var values [][]byte
		for {
			vline, vnext, vok := readFoldedLine(p.data, cursor)
			if !vok {
				return nil, record.NewParseError(cursor, "unterminated modify block for %s", attr)
			}
			if vline == "-" {
				cursor = vnext
				break
			}
			if vline == "" {
				return nil, record.NewParseError(cursor, "unterminated modify block for %s", attr)
			}
			vad, value, err := splitAttrLine(vline, cursor)
			if err != nil {
				return nil, err
			}
			if vad != attr {
				return nil, record.NewParseError(cursor, "value attribute %q does not match block attribute %q", vad, attr)
			}
			values = append(values, value)
			cursor = vnext
		}
		mods = append(mods, model.LdapMod{Op: op, Attr: attr, Values: values})
	}
	p.pos = cursor
	return &model.ModifyRecord{DN: h.dn, Mods: mods}, nil
}

var _ record.Parser = (*Parser)(nil)

// ReadFile loads an LDIF file from disk into a new Parser.
func ReadFile(path string) (*Parser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(data), nil
}
