package ldif

import (
	"testing"

	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEntryNumbered(t *testing.T) {
	p := New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n"))
	key, entry, pos, err := p.ReadEntry(nil)
	require.NoError(t, err)
	assert.Equal(t, record.KindNumbered, key.Kind)
	assert.Equal(t, "0", key.Label)
	assert.Equal(t, "cn=foo,dc=ex", entry.DN)
	assert.Equal(t, int64(1), pos)
	assert.Equal(t, "foo", string(entry.GetAttribute("cn").Values[0]))

	_, _, _, err = p.ReadEntry(nil)
	assert.Equal(t, record.ErrEnd, err)
}

func TestReadEntryImplicitAdd(t *testing.T) {
	p := New([]byte("dn: cn=x,dc=ex\ncn: x\nsn: t\n\n"))
	key, entry, _, err := p.ReadEntry(nil)
	require.NoError(t, err)
	assert.Equal(t, record.KindAdd, key.Kind)
	assert.Equal(t, "cn=x,dc=ex", entry.DN)
	assert.Len(t, entry.Attributes, 2)
}

func TestReadEntryExplicitAddChangetype(t *testing.T) {
	p := New([]byte("dn: cn=x,dc=ex\nchangetype: add\ncn: x\nsn: t\n\n"))
	key, entry, _, err := p.ReadEntry(nil)
	require.NoError(t, err)
	assert.Equal(t, record.KindAdd, key.Kind)
	assert.Len(t, entry.Attributes, 2)
}

func TestReadDelete(t *testing.T) {
	p := New([]byte("dn: cn=foo,dc=ex\nchangetype: delete\n\n"))
	dn, err := p.ReadDelete(nil)
	require.NoError(t, err)
	assert.Equal(t, "cn=foo,dc=ex", dn)
}

func TestReadRenameNoNewSuperior(t *testing.T) {
	p := New([]byte("dn: cn=old,dc=ex\nchangetype: modrdn\nnewrdn: cn=new\ndeleteoldrdn: 1\n\n"))
	r, err := p.ReadRename(nil)
	require.NoError(t, err)
	assert.Equal(t, "cn=old,dc=ex", r.OldDN)
	assert.Equal(t, "cn=new,dc=ex", r.NewDN)
	assert.True(t, r.DeleteOldRDN)
}

func TestReadRenameWithNewSuperior(t *testing.T) {
	p := New([]byte("dn: cn=old,dc=ex,dc=com\nchangetype: moddn\nnewrdn: cn=new\ndeleteoldrdn: 0\nnewsuperior: dc=other\n\n"))
	r, err := p.ReadRename(nil)
	require.NoError(t, err)
	assert.Equal(t, "cn=new,dc=other", r.NewDN)
	assert.False(t, r.DeleteOldRDN)
}

func TestReadRenameEmptyNewSuperiorMeansRoot(t *testing.T) {
	p := New([]byte("dn: cn=old,dc=ex\nchangetype: modrdn\nnewrdn: cn=new\ndeleteoldrdn: 0\nnewsuperior:\n\n"))
	r, err := p.ReadRename(nil)
	require.NoError(t, err)
	assert.Equal(t, "cn=new", r.NewDN)
}

func TestReadModify(t *testing.T) {
	p := New([]byte("dn: cn=foo,dc=ex\nchangetype: modify\nadd: description\ndescription: hi\n-\n\n"))
	m, err := p.ReadModify(nil)
	require.NoError(t, err)
	assert.Equal(t, "cn=foo,dc=ex", m.DN)
	require.Len(t, m.Mods, 1)
	assert.Equal(t, model.ModAdd, m.Mods[0].Op)
	assert.Equal(t, "description", m.Mods[0].Attr)
	assert.Equal(t, "hi", string(m.Mods[0].Values[0]))
}

func TestReadModifyMultipleBlocks(t *testing.T) {
	data := "dn: cn=foo,dc=ex\nchangetype: modify\n" +
		"add: mail\nmail: a@b.com\nmail: c@d.com\n-\n" +
		"delete: description\n-\n" +
		"replace: sn\nsn: new\n-\n\n"
	p := New([]byte(data))
	m, err := p.ReadModify(nil)
	require.NoError(t, err)
	require.Len(t, m.Mods, 3)
	assert.Equal(t, model.ModAdd, m.Mods[0].Op)
	assert.Len(t, m.Mods[0].Values, 2)
	assert.Equal(t, model.ModDelete, m.Mods[1].Op)
	assert.Equal(t, model.ModReplace, m.Mods[2].Op)
}

func TestReadModifyAttributeMismatchIsParseError(t *testing.T) {
	p := New([]byte("dn: cn=foo,dc=ex\nchangetype: modify\nadd: mail\nsn: oops\n-\n\n"))
	_, err := p.ReadModify(nil)
	require.Error(t, err)
	var pe *record.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestReadEntryDNWithoutEqualsIsParseError(t *testing.T) {
	p := New([]byte("dn: foobar\ncn: x\n\n"))
	_, _, _, err := p.ReadEntry(nil)
	require.Error(t, err)
	var pe *record.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestBase64DN(t *testing.T) {
	// "cn=x,dc=ex" base64-encoded
	p := New([]byte("dn:: Y249eCxkYz1leA==\nchangetype: delete\n\n"))
	dn, err := p.ReadDelete(nil)
	require.NoError(t, err)
	assert.Equal(t, "cn=x,dc=ex", dn)
}

func TestFoldedContinuationLine(t *testing.T) {
	p := New([]byte("dn: cn=x,dc=ex\ndescription: a very lo\n ng value\n\n"))
	_, entry, _, err := p.ReadEntry(nil)
	require.NoError(t, err)
	assert.Equal(t, "a very long value", string(entry.GetAttribute("description").Values[0]))
}

func TestEmptyFileReturnsEnd(t *testing.T) {
	p := New([]byte(""))
	_, _, _, err := p.ReadEntry(nil)
	assert.Equal(t, record.ErrEnd, err)
}

func TestVersionLineOnlyReturnsEnd(t *testing.T) {
	p := New([]byte("version: 1\n"))
	_, _, _, err := p.ReadEntry(nil)
	assert.Equal(t, record.ErrEnd, err)
}

func TestPeekEntryDoesNotAdvance(t *testing.T) {
	p := New([]byte("dn: cn=x,dc=ex\ncn: x\n\n"))
	key1, pos1, err := p.PeekEntry(nil)
	require.NoError(t, err)
	key2, pos2, err := p.PeekEntry(nil)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
	assert.Equal(t, pos1, pos2)
}

func TestSkipEntryAdvancesPastRecord(t *testing.T) {
	p := New([]byte("dn: cn=a,dc=ex\ncn: a\n\ndn: cn=b,dc=ex\ncn: b\n\n"))
	_, err := p.SkipEntry(nil)
	require.NoError(t, err)
	key, entry, _, err := p.ReadEntry(nil)
	require.NoError(t, err)
	assert.Equal(t, record.KindAdd, key.Kind)
	assert.Equal(t, "cn=b,dc=ex", entry.DN)
}
