package rdn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapvi/ldapvi/internal/model"
)

func entryWith(dn string, kv ...string) *model.Entry {
	e := model.NewEntry(dn)
	for i := 0; i < len(kv); i += 2 {
		e.FindAttribute(kv[i], true).AppendValue([]byte(kv[i+1]))
	}
	return e
}

func TestParseRDNSingleAVA(t *testing.T) {
	avas, ok := ParseRDN("cn=foo")
	require.True(t, ok)
	require.Len(t, avas, 1)
	assert.Equal(t, "cn", avas[0].AD)
	assert.Equal(t, "foo", avas[0].Value)
}

func TestParseRDNMultiValuedPlusJoined(t *testing.T) {
	avas, ok := ParseRDN("cn=foo+uid=bar")
	require.True(t, ok)
	require.Len(t, avas, 2)
	assert.Equal(t, "uid", avas[1].AD)
	assert.Equal(t, "bar", avas[1].Value)
}

func TestParseRDNEscapedPlus(t *testing.T) {
	avas, ok := ParseRDN(`cn=a\+b`)
	require.True(t, ok)
	require.Len(t, avas, 1)
	assert.Equal(t, "a+b", avas[0].Value)
}

func TestParseRDNNoEqualsIsInvalid(t *testing.T) {
	_, ok := ParseRDN("not-an-ava")
	assert.False(t, ok)
}

func TestFrobAVACheckPresent(t *testing.T) {
	e := entryWith("cn=foo,dc=ex", "cn", "foo")
	assert.Equal(t, 0, FrobAVA(e, Check, "cn", "foo"))
}

func TestFrobAVACheckAbsent(t *testing.T) {
	e := entryWith("cn=foo,dc=ex")
	assert.Equal(t, -1, FrobAVA(e, Check, "cn", "foo"))
}

func TestFrobAVACheckNone(t *testing.T) {
	e := entryWith("cn=foo,dc=ex")
	assert.Equal(t, 0, FrobAVA(e, CheckNone, "cn", "foo"))

	e2 := entryWith("cn=foo,dc=ex", "cn", "foo")
	assert.Equal(t, -1, FrobAVA(e2, CheckNone, "cn", "foo"))
}

func TestFrobAVARemove(t *testing.T) {
	e := entryWith("cn=foo,dc=ex", "cn", "foo")
	assert.Equal(t, 0, FrobAVA(e, Remove, "cn", "foo"))
	assert.Equal(t, -1, FrobAVA(e, Check, "cn", "foo"))
}

func TestFrobAVAAddIdempotent(t *testing.T) {
	e := entryWith("cn=foo,dc=ex")
	assert.Equal(t, 0, FrobAVA(e, Add, "cn", "foo"))
	assert.Equal(t, 0, FrobAVA(e, Add, "cn", "foo"))
	assert.Len(t, e.GetAttribute("cn").Values, 1)
}

func TestFrobRDNShortCircuitsOnFirstFailure(t *testing.T) {
	e := entryWith("x", "cn", "foo")
	assert.Equal(t, -1, FrobRDN(e, Check, "cn=foo+uid=bar,dc=ex"))
}

func TestFrobRDNAllPresent(t *testing.T) {
	e := entryWith("x", "cn", "foo", "uid", "bar")
	assert.Equal(t, 0, FrobRDN(e, Check, "cn=foo+uid=bar,dc=ex"))
}

func TestValidateRenameSameRDNPresentMeansNoDelete(t *testing.T) {
	clean := entryWith("cn=foo,dc=ex", "cn", "foo")
	data := entryWith("cn=foo,dc=other", "cn", "foo")
	del, ok := ValidateRename(clean, data)
	require.True(t, ok)
	assert.False(t, del)
}

func TestValidateRenameOldRDNAbsentMeansDelete(t *testing.T) {
	clean := entryWith("cn=foo,dc=ex", "cn", "foo")
	data := entryWith("cn=bar,dc=ex", "cn", "bar")
	del, ok := ValidateRename(clean, data)
	require.True(t, ok)
	assert.True(t, del)
}

func TestValidateRenameRejectsEmptyDN(t *testing.T) {
	clean := entryWith("", "cn", "foo")
	data := entryWith("cn=bar,dc=ex", "cn", "bar")
	_, ok := ValidateRename(clean, data)
	assert.False(t, ok)
}

func TestValidateRenameRejectsWhenCleanMissingItsOwnRDNAttr(t *testing.T) {
	clean := entryWith("cn=foo,dc=ex")
	data := entryWith("cn=bar,dc=ex", "cn", "bar")
	_, ok := ValidateRename(clean, data)
	assert.False(t, ok)
}

func TestApplyRenameDeletesOldRDNAndAddsNew(t *testing.T) {
	clean := entryWith("cn=foo,dc=ex", "cn", "foo")
	ApplyRename(clean, "cn=bar,dc=ex", true)
	assert.Equal(t, "cn=bar,dc=ex", clean.DN)
	assert.Equal(t, -1, clean.GetAttribute("cn").FindValue([]byte("foo")))
	assert.GreaterOrEqual(t, clean.GetAttribute("cn").FindValue([]byte("bar")), 0)
}

func TestApplyRenameKeepsOldRDNWhenNotDeleting(t *testing.T) {
	clean := entryWith("cn=foo,dc=ex", "cn", "foo")
	ApplyRename(clean, "cn=foo+uid=bar,dc=ex", false)
	assert.Equal(t, "cn=foo+uid=bar,dc=ex", clean.DN)
	assert.GreaterOrEqual(t, clean.GetAttribute("cn").FindValue([]byte("foo")), 0)
	assert.GreaterOrEqual(t, clean.GetAttribute("uid").FindValue([]byte("bar")), 0)
}
