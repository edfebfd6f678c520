package printer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/schema"
)

func entryWith(dn string, kv ...string) *model.Entry {
	e := model.NewEntry(dn)
	for i := 0; i < len(kv); i += 2 {
		e.FindAttribute(kv[i], true).AppendValue([]byte(kv[i+1]))
	}
	return e
}

func TestIsReadableUTF8Mode(t *testing.T) {
	assert.True(t, IsReadable([]byte("hello"), ModeUTF8))
	assert.False(t, IsReadable([]byte{0xff, 0xfe}, ModeUTF8))
	assert.False(t, IsReadable([]byte("a\x00b"), ModeUTF8))
}

func TestIsReadableASCIIMode(t *testing.T) {
	assert.True(t, IsReadable([]byte("hello\n\t"), ModeASCII))
	assert.False(t, IsReadable([]byte{200}, ModeASCII))
}

func TestIsReadableJunkModeAlwaysTrue(t *testing.T) {
	assert.True(t, IsReadable([]byte{0, 1, 2, 255}, ModeJunk))
}

func TestSafeStringP(t *testing.T) {
	assert.True(t, safeStringP([]byte("")))
	assert.True(t, safeStringP([]byte("hello")))
	assert.False(t, safeStringP([]byte(" leading space")))
	assert.False(t, safeStringP([]byte(":leading colon")))
	assert.False(t, safeStringP([]byte("<leading lt")))
	assert.False(t, safeStringP([]byte("embedded\nnewline")))
	assert.False(t, safeStringP([]byte{0x80}))
}

func TestPrintEntryPlainValue(t *testing.T) {
	var buf bytes.Buffer
	e := entryWith("cn=foo,dc=ex", "cn", "foo")
	require.NoError(t, PrintEntry(&buf, e, "", ModeUTF8))
	out := buf.String()
	assert.Contains(t, out, "\nentry cn=foo,dc=ex\n")
	assert.Contains(t, out, "cn: foo\n")
}

func TestPrintEntryWithKey(t *testing.T) {
	var buf bytes.Buffer
	e := entryWith("cn=foo,dc=ex", "cn", "foo")
	require.NoError(t, PrintEntry(&buf, e, "0", ModeUTF8))
	assert.Contains(t, buf.String(), "\n0 cn=foo,dc=ex\n")
}

func TestPrintEntryBase64ForBinary(t *testing.T) {
	var buf bytes.Buffer
	e := entryWith("cn=foo,dc=ex")
	e.FindAttribute("jpegPhoto", true).AppendValue([]byte{0xff, 0xd8, 0xff, 0x00})
	require.NoError(t, PrintEntry(&buf, e, "", ModeUTF8))
	assert.Contains(t, buf.String(), "jpegPhoto:: ")
}

func TestPrintEntryBackslashedUnsafeValue(t *testing.T) {
	var buf bytes.Buffer
	e := entryWith("cn=foo,dc=ex", "description", " leading space")
	require.NoError(t, PrintEntry(&buf, e, "", ModeUTF8))
	assert.Contains(t, buf.String(), "description:; ")
}

func TestPrintDelete(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintDelete(&buf, "cn=foo,dc=ex", ModeUTF8))
	assert.Equal(t, "\ndelete cn=foo,dc=ex\n", buf.String())
}

func TestPrintAdd(t *testing.T) {
	var buf bytes.Buffer
	mods := []model.Mod{{Attr: "cn", Values: [][]byte{[]byte("foo")}}}
	require.NoError(t, PrintAdd(&buf, "cn=foo,dc=ex", mods, ModeUTF8))
	out := buf.String()
	assert.Contains(t, out, "\nadd cn=foo,dc=ex\n")
	assert.Contains(t, out, "cn: foo\n")
}

func TestPrintModify(t *testing.T) {
	var buf bytes.Buffer
	mods := []model.LdapMod{{Op: model.ModAdd, Attr: "description", Values: [][]byte{[]byte("hi")}}}
	require.NoError(t, PrintModify(&buf, "cn=foo,dc=ex", mods, ModeUTF8))
	out := buf.String()
	assert.Contains(t, out, "\nmodify cn=foo,dc=ex\n")
	assert.Contains(t, out, "add: description\n")
	assert.Contains(t, out, ": hi\n")
}

func TestPrintRenameAddsRDN(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintRename(&buf, "cn=old,dc=ex", "cn=new,dc=ex", false, ModeUTF8))
	out := buf.String()
	assert.Contains(t, out, "\nrename cn=old,dc=ex\n")
	assert.Contains(t, out, "add cn=new,dc=ex\n")
}

func TestPrintRenameReplacesRDN(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintRename(&buf, "cn=old,dc=ex", "cn=new,dc=ex", true, ModeUTF8))
	assert.Contains(t, buf.String(), "replace cn=new,dc=ex\n")
}

func TestPrintModRDNReconstructsDN(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintModRDN(&buf, "cn=old,dc=ex,dc=com", "cn=new", false, ModeUTF8))
	assert.Contains(t, buf.String(), "add cn=new,dc=ex,dc=com\n")
}

func TestPrintLDIFEntry(t *testing.T) {
	var buf bytes.Buffer
	e := entryWith("cn=foo,dc=ex", "cn", "foo")
	require.NoError(t, PrintLDIFEntry(&buf, e, "3"))
	out := buf.String()
	assert.Contains(t, out, "dn: cn=foo,dc=ex\n")
	assert.Contains(t, out, "ldapvi-key: 3\n")
	assert.Contains(t, out, "cn: foo\n")
}

func TestPrintLDIFEntryBase64DN(t *testing.T) {
	var buf bytes.Buffer
	e := entryWith(" cn=foo,dc=ex")
	require.NoError(t, PrintLDIFEntry(&buf, e, ""))
	assert.Contains(t, buf.String(), "dn:: ")
}

func TestPrintLDIFAdd(t *testing.T) {
	var buf bytes.Buffer
	mods := []model.Mod{{Attr: "cn", Values: [][]byte{[]byte("foo")}}}
	require.NoError(t, PrintLDIFAdd(&buf, "cn=foo,dc=ex", mods))
	out := buf.String()
	assert.Contains(t, out, "changetype: add\n")
	assert.Contains(t, out, "cn: foo\n")
}

func TestPrintLDIFDelete(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintLDIFDelete(&buf, "cn=foo,dc=ex"))
	assert.Equal(t, "\ndn: cn=foo,dc=ex\nchangetype: delete\n", buf.String())
}

func TestPrintLDIFModify(t *testing.T) {
	var buf bytes.Buffer
	mods := []model.LdapMod{
		{Op: model.ModAdd, Attr: "mail", Values: [][]byte{[]byte("a@b.com")}},
		{Op: model.ModDelete, Attr: "description", Values: nil},
	}
	require.NoError(t, PrintLDIFModify(&buf, "cn=foo,dc=ex", mods))
	out := buf.String()
	assert.Contains(t, out, "changetype: modify\n")
	assert.Contains(t, out, "add: mail\n")
	assert.Contains(t, out, "mail: a@b.com\n")
	assert.Contains(t, out, "delete: description\n")
	assert.Equal(t, 2, bytesCount(out, "-\n"))
}

func bytesCount(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}

func TestPrintLDIFRenameWithSuperior(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintLDIFRename(&buf, "cn=old,dc=ex,dc=com", "cn=new,dc=other", false))
	out := buf.String()
	assert.Contains(t, out, "changetype: modrdn\n")
	assert.Contains(t, out, "newrdn: cn=new\n")
	assert.Contains(t, out, "deleteoldrdn: 0\n")
	assert.Contains(t, out, "newsuperior: dc=other\n")
}

func TestPrintLDIFRenameNoSuperior(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintLDIFRename(&buf, "cn=old,dc=ex", "cn=new", true))
	out := buf.String()
	assert.Contains(t, out, "deleteoldrdn: 1\n")
	assert.Contains(t, out, "newsuperior:\n")
}

func TestPrintEntryAnnotatedWarnsOnDisallowedAttribute(t *testing.T) {
	s := schema.New()
	cn, _ := schema.ParseAttributeType("( 2.5.4.3 NAME 'cn' )")
	s.AddAttributeType(cn)
	top, _ := schema.ParseObjectClass("( 2.5.6.0 NAME 'top' ABSTRACT MUST cn )")
	s.AddObjectClass(top)

	ent := schema.NewEntroid(s)
	ent.RequestClass("top")
	require.NoError(t, ent.Compute())

	e := entryWith("cn=foo,dc=ex", "cn", "foo", "description", "extra")
	var buf bytes.Buffer
	require.NoError(t, PrintEntryAnnotated(&buf, e, "", ModeUTF8, ent))
	out := buf.String()
	assert.Contains(t, out, "# WARNING: description not allowed by schema")
	assert.NotContains(t, out, "required attribute not shown: cn")
}

func TestPrintEntryAnnotatedListsMissingMust(t *testing.T) {
	s := schema.New()
	cn, _ := schema.ParseAttributeType("( 2.5.4.3 NAME 'cn' )")
	s.AddAttributeType(cn)
	top, _ := schema.ParseObjectClass("( 2.5.6.0 NAME 'top' STRUCTURAL MUST cn )")
	s.AddObjectClass(top)

	ent := schema.NewEntroid(s)
	ent.RequestClass("top")
	require.NoError(t, ent.Compute())

	e := entryWith("cn=foo,dc=ex")
	var buf bytes.Buffer
	require.NoError(t, PrintEntryAnnotated(&buf, e, "", ModeUTF8, ent))
	assert.Contains(t, buf.String(), "# required attribute not shown: cn")
}
