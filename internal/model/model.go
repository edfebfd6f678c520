// Package model holds the entry/attribute/modification data types shared by
// every parser, printer, and the diff engine.
package model

import "sort"

// Entry is one LDAP entry: a DN plus an ordered list of attributes.
// Attribute order is preserved exactly as parsed.
type Entry struct {
	DN         string
	Attributes []*Attribute
}

// NewEntry returns an empty entry for dn.
func NewEntry(dn string) *Entry {
	return &Entry{DN: dn}
}

// FindAttribute looks up an attribute by descriptor (case-sensitive). When
// create is true and no such attribute exists, one is appended and returned.
func (e *Entry) FindAttribute(ad string, create bool) *Attribute {
	for _, a := range e.Attributes {
		if a.AD == ad {
			return a
		}
	}
	if !create {
		return nil
	}
	a := &Attribute{AD: ad}
	e.Attributes = append(e.Attributes, a)
	return a
}

// GetAttribute is a non-mutating lookup.
func (e *Entry) GetAttribute(ad string) *Attribute {
	return e.FindAttribute(ad, false)
}

// ToMods converts every attribute of the entry into a Mod, preserving order.
func (e *Entry) ToMods() []Mod {
	mods := make([]Mod, len(e.Attributes))
	for i, a := range e.Attributes {
		mods[i] = a.ToMod()
	}
	return mods
}

// SortAttributes sorts the attribute list by descriptor, stably. Used by the
// diff engine's three-way merge and by printers that want canonical output.
func (e *Entry) SortAttributes() {
	sort.SliceStable(e.Attributes, func(i, j int) bool {
		return e.Attributes[i].AD < e.Attributes[j].AD
	})
}

// Attribute is a descriptor with an ordered, binary-safe bag of values.
type Attribute struct {
	AD     string
	Values [][]byte
}

// AppendValue appends a copy of data to the attribute's value list.
func (a *Attribute) AppendValue(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	a.Values = append(a.Values, cp)
}

// FindValue returns the index of data within the attribute's values, or -1.
func (a *Attribute) FindValue(data []byte) int {
	for i, v := range a.Values {
		if string(v) == string(data) {
			return i
		}
	}
	return -1
}

// RemoveValue removes the first occurrence of data, reporting whether it was
// present.
func (a *Attribute) RemoveValue(data []byte) bool {
	i := a.FindValue(data)
	if i < 0 {
		return false
	}
	a.Values = append(a.Values[:i], a.Values[i+1:]...)
	return true
}

// ToMod converts the attribute to a bare Mod (no operation attached).
func (a *Attribute) ToMod() Mod {
	return Mod{Attr: a.AD, Values: a.Values}
}

// ModOp is the kind of change an LdapMod carries.
type ModOp int

const (
	ModAdd ModOp = iota
	ModDelete
	ModReplace
)

func (op ModOp) String() string {
	switch op {
	case ModAdd:
		return "add"
	case ModDelete:
		return "delete"
	case ModReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Mod is an attribute/value pair without an attached operation; used when
// building an Entry's initial attribute set for an add record.
type Mod struct {
	Attr   string
	Values [][]byte
}

// LdapMod is a single modification: an operation plus the attribute/values
// it applies to.
type LdapMod struct {
	Op     ModOp
	Attr   string
	Values [][]byte
}

// RenameRecord is a modrdn/moddn: old and new DN plus whether the old RDN
// value should be stripped from the entry's attributes.
type RenameRecord struct {
	OldDN        string
	NewDN        string
	DeleteOldRDN bool
}

// ModifyRecord is an explicit "modify" change record: a DN and its list of
// modifications, each carrying its own operation.
type ModifyRecord struct {
	DN   string
	Mods []LdapMod
}

// ValueToString renders a binary value the way the printer's UTF-8 lossy
// fallback does; used only for diagnostics, never for round-tripping.
func ValueToString(value []byte) string {
	return string(value)
}

// SearchEntry is what a directory search returns before it is turned into an
// Entry for printing; attribute names from the wire are case-insensitive.
type SearchEntry struct {
	DN         string
	Attributes []SearchAttribute
}

// SearchAttribute is one wire-returned attribute.
type SearchAttribute struct {
	Name   string
	Values [][]byte
}

// ToEntry converts a SearchEntry into the Entry the printer consumes.
func (s *SearchEntry) ToEntry() *Entry {
	e := NewEntry(s.DN)
	for _, a := range s.Attributes {
		attr := e.FindAttribute(a.Name, true)
		for _, v := range a.Values {
			attr.AppendValue(v)
		}
	}
	return e
}
