package model

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeEntry(dn string) *Entry {
	return NewEntry(dn)
}

func addAttrValue(e *Entry, ad, val string) {
	a := e.FindAttribute(ad, true)
	a.AppendValue([]byte(val))
}

func TestEntryNewSetsDN(t *testing.T) {
	e := NewEntry("cn=foo,dc=example,dc=com")
	assert.Equal(t, "cn=foo,dc=example,dc=com", e.DN)
	assert.Len(t, e.Attributes, 0)
}

func TestEntrySorting(t *testing.T) {
	entries := []*Entry{makeEntry("cn=zzz,dc=com"), makeEntry("cn=aaa,dc=com")}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DN < entries[j].DN })
	assert.Equal(t, "cn=aaa,dc=com", entries[0].DN)
	assert.Equal(t, "cn=zzz,dc=com", entries[1].DN)
}

func TestFindAttributeCreates(t *testing.T) {
	e := makeEntry("cn=test,dc=com")
	a := e.FindAttribute("cn", true)
	assert.NotNil(t, a)
	assert.Equal(t, "cn", a.AD)
	assert.Len(t, e.Attributes, 1)
}

func TestFindAttributeNoCreate(t *testing.T) {
	e := makeEntry("cn=test,dc=com")
	assert.Nil(t, e.FindAttribute("cn", false))
}

func TestFindAttributeExistingNoDuplicate(t *testing.T) {
	e := makeEntry("cn=test,dc=com")
	e.FindAttribute("cn", true)
	e.FindAttribute("cn", true)
	assert.Len(t, e.Attributes, 1)
}

func TestAppendAndFindValue(t *testing.T) {
	a := &Attribute{AD: "cn"}
	a.AppendValue([]byte("hello"))
	assert.Len(t, a.Values, 1)
	assert.Equal(t, 0, a.FindValue([]byte("hello")))
}

func TestFindValueNotFound(t *testing.T) {
	a := &Attribute{AD: "cn"}
	a.AppendValue([]byte("hello"))
	assert.Equal(t, -1, a.FindValue([]byte("world")))
}

func TestRemoveValueSuccess(t *testing.T) {
	a := &Attribute{AD: "cn"}
	a.AppendValue([]byte("hello"))
	assert.True(t, a.RemoveValue([]byte("hello")))
	assert.Len(t, a.Values, 0)
}

func TestRemoveValueNotFound(t *testing.T) {
	a := &Attribute{AD: "cn"}
	a.AppendValue([]byte("hello"))
	assert.False(t, a.RemoveValue([]byte("world")))
	assert.Len(t, a.Values, 1)
}

func TestAttributeToMod(t *testing.T) {
	a := &Attribute{AD: "mail"}
	a.AppendValue([]byte("a@b.com"))
	a.AppendValue([]byte("c@d.com"))
	m := a.ToMod()
	assert.Equal(t, "mail", m.Attr)
	assert.Len(t, m.Values, 2)
}

func TestEntryToMods(t *testing.T) {
	e := makeEntry("cn=test,dc=com")
	addAttrValue(e, "cn", "test")
	addAttrValue(e, "sn", "value")
	mods := e.ToMods()
	assert.Len(t, mods, 2)
	assert.Equal(t, "cn", mods[0].Attr)
	assert.Equal(t, "sn", mods[1].Attr)
}

func TestSortAttributesStable(t *testing.T) {
	e := makeEntry("cn=test,dc=com")
	addAttrValue(e, "sn", "1")
	e.Attributes = append(e.Attributes,
		&Attribute{AD: "cn", Values: [][]byte{[]byte("2")}},
		&Attribute{AD: "cn", Values: [][]byte{[]byte("3")}})
	e.SortAttributes()
	assert.Equal(t, "cn", e.Attributes[0].AD)
	assert.Equal(t, "cn", e.Attributes[1].AD)
	assert.Equal(t, "sn", e.Attributes[2].AD)
}

func TestSearchEntryToEntry(t *testing.T) {
	se := &SearchEntry{
		DN: "cn=foo,dc=ex",
		Attributes: []SearchAttribute{
			{Name: "cn", Values: [][]byte{[]byte("foo")}},
		},
	}
	e := se.ToEntry()
	assert.Equal(t, "cn=foo,dc=ex", e.DN)
	assert.Equal(t, "foo", string(e.GetAttribute("cn").Values[0]))
}
