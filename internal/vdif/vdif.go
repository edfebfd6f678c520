// Package vdif implements the native "ldapvi" format parser (§4.1.2 of
// SPEC_FULL.md): "<key> <dn>" headers, blank-line-separated records, and the
// backslash/base64/file/raw-count/password value encodings.
package vdif

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/ldapvi/ldapvi/internal/codec"
	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/record"
)

// Parser streams native-format records out of an in-memory byte buffer.
type Parser struct {
	data []byte
	pos  int64
}

// New wraps data for parsing, skipping a leading "version ldapvi" header and
// any "# coding cookie" comment line that follows it.
func New(data []byte) *Parser {
	p := &Parser{data: data}
	p.skipVersionHeader()
	return p
}

func (p *Parser) skipVersionHeader() {
	line, next := physicalLine(p.data, 0)
	if strings.HasPrefix(strings.TrimSpace(string(line)), "version ldapvi") {
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

// --- low level helpers ----------------------------------------------------

func physicalLine(data []byte, pos int64) ([]byte, int64) {
	if pos >= int64(len(data)) {
		return nil, pos
	}
	rest := data[pos:]
	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return rest, int64(len(data))
	}
	return rest[:idx], pos + int64(idx) + 1
}

func skipBlankAndComments(data []byte, pos int64) int64 {
	for pos < int64(len(data)) {
		line, next := physicalLine(data, pos)
		trimmed := strings.TrimSpace(string(line))
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			pos = next
			continue
		}
		return pos
	}
	return pos
}

// readFoldedText assembles an LDIF-style folded value: the rest of the
// current physical line, plus continuation lines that start with exactly
// one leading space.
func readFoldedText(data []byte, pos int64) (string, int64) {
	line, next := physicalLine(data, pos)
	var sb strings.Builder
	sb.Write(line)
	pos = next
	for pos < int64(len(data)) && data[pos] == ' ' {
		cont, next2 := physicalLine(data, pos)
		sb.Write(cont[1:])
		pos = next2
	}
	return sb.String(), pos
}

// readBackslashEscaped reads a value encoded with backslash escaping: "\\"
// is a literal backslash, "\<newline>" inserts a literal newline and
// continues the value on the next physical line, any other character ends
// the value at the next unescaped newline.
func readBackslashEscaped(data []byte, pos int64) ([]byte, int64) {
	var buf bytes.Buffer
	for pos < int64(len(data)) {
		c := data[pos]
		if c == '\n' {
			pos++
			break
		}
		if c == '\\' && pos+1 < int64(len(data)) {
			next := data[pos+1]
			if next == '\\' {
				buf.WriteByte('\\')
				pos += 2
				continue
			}
			if next == '\n' {
				buf.WriteByte('\n')
				pos += 2
				continue
			}
			buf.WriteByte(next)
			pos += 2
			continue
		}
		buf.WriteByte(c)
		pos++
	}
	return buf.Bytes(), pos
}

type encKind int

const (
	encDefault encKind = iota // no colon, or explicit ":;"
	encPlain                  // ":"
	encBase64                 // "::"
	encFile                   // ":<"
	encRaw                    // ":N"
	encHash                   // ":sha" etc
)

// parseLineHead parses "<name><enc?> " at pos and returns the name, the
// chosen encoding, any encoding parameter (raw byte count or hash scheme
// name), and the position the value begins at.
func parseLineHead(data []byte, pos int64) (name string, enc encKind, param string, valueStart int64, err error) {
	start := pos
	i := pos
	for i < int64(len(data)) {
		c := data[i]
		if c == 0 {
			return "", 0, "", 0, record.NewParseError(start, "NUL byte in attribute name")
		}
		if c == ':' || c == ' ' || c == '\n' {
			break
		}
		i++
	}
	if i >= int64(len(data)) || data[i] == '\n' {
		return "", 0, "", 0, record.NewParseError(start, "truncated line")
	}
	name = string(data[pos:i])

	if data[i] == ' ' {
		return name, encDefault, "", i + 1, nil
	}

	// data[i] == ':'
	j := i + 1
	if j >= int64(len(data)) {
		return "", 0, "", 0, record.NewParseError(start, "truncated line")
	}
	switch {
	case data[j] == ':':
		if j+1 >= int64(len(data)) || data[j+1] != ' ' {
			return "", 0, "", 0, record.NewParseError(start, "malformed \"::\" encoding")
		}
		return name, encBase64, "", j + 2, nil
	case data[j] == '<':
		if j+1 >= int64(len(data)) || data[j+1] != ' ' {
			return "", 0, "", 0, record.NewParseError(start, "malformed \":<\" encoding")
		}
		return name, encFile, "", j + 2, nil
	case data[j] == ';':
		if j+1 >= int64(len(data)) || data[j+1] != ' ' {
			return "", 0, "", 0, record.NewParseError(start, "malformed \":;\" encoding")
		}
		return name, encDefault, "", j + 2, nil
	case data[j] == ' ':
		return name, encPlain, "", j + 1, nil
	case data[j] >= '0' && data[j] <= '9':
		k := j
		for k < int64(len(data)) && data[k] >= '0' && data[k] <= '9' {
			k++
		}
		if k >= int64(len(data)) || data[k] != ' ' {
			return "", 0, "", 0, record.NewParseError(start, "malformed raw-count encoding")
		}
		return name, encRaw, string(data[j:k]), k + 1, nil
	case isAlpha(data[j]):
		k := j
		for k < int64(len(data)) && isAlpha(data[k]) {
			k++
		}
		if k >= int64(len(data)) || data[k] != ' ' {
			return "", 0, "", 0, record.NewParseError(start, "malformed scheme encoding")
		}
		scheme := string(data[j:k])
		if !validHashScheme(scheme) {
			return "", 0, "", 0, record.NewParseError(start, "unknown encoding scheme %q", scheme)
		}
		return name, encHash, scheme, k + 1, nil
	default:
		return "", 0, "", 0, record.NewParseError(start, "malformed encoding after ':'")
	}
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func validHashScheme(s string) bool {
	switch s {
	case "sha", "ssha", "md5", "smd5", "crypt", "cryptmd5":
		return true
	default:
		return false
	}
}

func hashSchemeOf(s string) codec.HashScheme {
	switch s {
	case "sha":
		return codec.SHA
	case "ssha":
		return codec.SSHA
	case "md5":
		return codec.MD5
	case "smd5":
		return codec.SMD5
	case "crypt":
		return codec.Crypt
	default:
		return codec.CryptMD5
	}
}

// decodeValue reads and decodes the value field for the given encoding
// starting at valueStart; it returns the decoded bytes and the position
// right after the value (including its terminating newline, where
// applicable).
func decodeValue(data []byte, enc encKind, param string, valueStart int64) ([]byte, int64, error) {
	switch enc {
	case encDefault:
		v, next := readBackslashEscaped(data, valueStart)
		return v, next, nil
	case encPlain:
		text, next := readFoldedText(data, valueStart)
		return []byte(text), next, nil
	case encBase64:
		text, next := readFoldedText(data, valueStart)
		decoded, ok := codec.DecodeBase64(text)
		if !ok {
			return nil, 0, record.NewParseError(valueStart, "invalid base64 value")
		}
		return decoded, next, nil
	case encFile:
		line, next := physicalLine(data, valueStart)
		uri := strings.TrimSpace(string(line))
		if !strings.HasPrefix(uri, "file://") {
			return nil, 0, record.NewParseError(valueStart, "unsupported URL scheme in %q", uri)
		}
		path := strings.TrimPrefix(uri, "file://")
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, record.NewParseError(valueStart, "reading %s: %v", path, err)
		}
		return contents, next, nil
	case encRaw:
		n, _ := strconv.Atoi(param)
		if valueStart+int64(n) > int64(len(data)) {
			return nil, 0, record.NewParseError(valueStart, "raw value of %d bytes runs past end of input", n)
		}
		v := make([]byte, n)
		copy(v, data[valueStart:valueStart+int64(n)])
		next := valueStart + int64(n)
		if next < int64(len(data)) && data[next] == '\n' {
			next++
		}
		return v, next, nil
	case encHash:
		line, next := physicalLine(data, valueStart)
		hashed, err := codec.HashPassword(hashSchemeOf(param), string(line))
		if err != nil {
			return nil, 0, record.NewParseError(valueStart, "%v", err)
		}
		return []byte(hashed), next, nil
	default:
		return nil, 0, record.NewParseError(valueStart, "unknown encoding")
	}
}

// --- record header ---------------------------------------------------------

type header struct {
	recordStart int64
	dn          string
	key         record.Key
	bodyStart   int64
}

func (p *Parser) readHeader(pos int64) (*header, error) {
	pos = skipBlankAndComments(p.data, pos)
	if pos >= int64(len(p.data)) {
		return nil, record.ErrEnd
	}
	recordStart := pos

	name, enc, param, valueStart, err := parseLineHead(p.data, pos)
	if err != nil {
		return nil, err
	}
	dnBytes, bodyStart, err := decodeValue(p.data, enc, param, valueStart)
	if err != nil {
		return nil, err
	}
	dn := string(dnBytes)
	if !strings.Contains(dn, "=") {
		return nil, record.NewParseError(recordStart, "invalid distinguished name string")
	}

	var key record.Key
	switch name {
	case "add":
		key = record.Key{Kind: record.KindAdd}
	case "delete":
		key = record.Key{Kind: record.KindDelete}
	case "modify":
		key = record.Key{Kind: record.KindModify}
	case "rename":
		key = record.Key{Kind: record.KindRename}
	case "replace":
		key = record.Key{Kind: record.KindReplace}
	default:
		if _, convErr := strconv.Atoi(name); convErr != nil {
			return nil, record.NewParseError(recordStart, "unknown record key %q", name)
		}
		key = record.Key{Kind: record.KindNumbered, Label: name}
	}

	return &header{recordStart: recordStart, dn: dn, key: key, bodyStart: bodyStart}, nil
}

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
	p.pos = skipRecordBody(p.data, h.bodyStart)
	return h.key, nil
}

func skipRecordBody(data []byte, pos int64) int64 {
	for pos < int64(len(data)) {
		line, next := physicalLine(data, pos)
		if len(line) == 0 {
			return next
		}
		pos = next
	}
	return pos
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
	if h.key.Kind != record.KindAdd && h.key.Kind != record.KindNumbered && h.key.Kind != record.KindReplace {
		return record.Key{}, nil, 0, record.NewParseError(h.recordStart, "not an entry record: %s", h.key)
	}

	entry := model.NewEntry(h.dn)
	cursor := h.bodyStart
	for cursor < int64(len(p.data)) {
		line, _ := physicalLine(p.data, cursor)
		if len(line) == 0 {
			cursor++
			break
		}
		name, enc, param, valueStart, err := parseLineHead(p.data, cursor)
		if err != nil {
			return record.Key{}, nil, 0, err
		}
		value, next, err := decodeValue(p.data, enc, param, valueStart)
		if err != nil {
			return record.Key{}, nil, 0, err
		}
		if name == "" {
			return record.Key{}, nil, 0, record.NewParseError(cursor, "empty attribute name")
		}
		entry.FindAttribute(name, true).AppendValue(value)
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
	p.pos = skipRecordBody(p.data, h.bodyStart)
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
	for cursor < int64(len(p.data)) {
		line, next := physicalLine(p.data, cursor)
		if len(line) == 0 {
			cursor = next
			break
		}
		text := string(line)
		switch {
		case strings.HasPrefix(text, "newrdn:"):
			newRDN = strings.TrimSpace(strings.TrimPrefix(text, "newrdn:"))
		case strings.HasPrefix(text, "deleteoldrdn:"):
			v := strings.TrimSpace(strings.TrimPrefix(text, "deleteoldrdn:"))
			if v != "0" && v != "1" {
				return nil, record.NewParseError(cursor, "deleteoldrdn must be 0 or 1")
			}
			deleteOldRDN = v == "1"
			haveDeleteOldRDN = true
		case strings.HasPrefix(text, "newsuperior:"):
			newSuperior = strings.TrimSpace(strings.TrimPrefix(text, "newsuperior:"))
			haveNewSuperior = true
		default:
			return nil, record.NewParseError(cursor, "unexpected line in rename record: %q", text)
		}
		cursor = next
	}
	p.pos = cursor

	if newRDN == "" || !haveDeleteOldRDN {
		return nil, record.NewParseError(h.recordStart, "rename record missing newrdn/deleteoldrdn")
	}
	newDN := newRDN
	if haveNewSuperior {
		if newSuperior != "" {
			newDN = newRDN + "," + newSuperior
		}
	} else if idx := strings.IndexByte(h.dn, ','); idx >= 0 {
		newDN = newRDN + h.dn[idx:]
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
	for cursor < int64(len(p.data)) {
		line, _ := physicalLine(p.data, cursor)
		if len(line) == 0 {
			cursor++
			break
		}
		text := string(line)
		var op model.ModOp
		var attr string
		switch {
		case strings.HasPrefix(text, "add:"):
			op, attr = model.ModAdd, strings.TrimSpace(strings.TrimPrefix(text, "add:"))
		case strings.HasPrefix(text, "delete:"):
			op, attr = model.ModDelete, strings.TrimSpace(strings.TrimPrefix(text, "delete:"))
		case strings.HasPrefix(text, "replace:"):
			op, attr = model.ModReplace, strings.TrimSpace(strings.TrimPrefix(text, "replace:"))
		default:
			return nil, record.NewParseError(cursor, "expected add:/delete:/replace:, got %q", text)
		}
		cursor += int64(len(line)) + 1

		var values [][]byte
		for {
			vline, _ := physicalLine(p.data, cursor)
			if string(vline) == "-" {
				cursor += 2
				break
			}
			if len(vline) == 0 {
				return nil, record.NewParseError(cursor, "unterminated modify block for %s", attr)
			}
			name, enc, param, valueStart, err := parseLineHead(p.data, cursor)
			if err != nil {
				return nil, err
			}
			if name != attr {
				return nil, record.NewParseError(cursor, "value attribute %q does not match block attribute %q", name, attr)
			}
			value, next, err := decodeValue(p.data, enc, param, valueStart)
			if err != nil {
				return nil, err
			}
			values = append(values, value)
			cursor = next
		}
		mods = append(mods, model.LdapMod{Op: op, Attr: attr, Values: values})
	}
	p.pos = cursor
	return &model.ModifyRecord{DN: h.dn, Mods: mods}, nil
}

var _ record.Parser = (*Parser)(nil)

// ReadFile loads a native-format file from disk into a new Parser.
func ReadFile(path string) (*Parser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(data), nil
}
