package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldapvi/ldapvi/internal/ldif"
	"github.com/ldapvi/ldapvi/internal/model"
	"github.com/ldapvi/ldapvi/internal/record"
)

// recordingHandler captures every dispatch for assertion, optionally
// failing a configured call to exercise the HandlerFail path.
type recordingHandler struct {
	calls   []string
	failOn  string
	n       int
}

func (h *recordingHandler) maybeFail(label string) int {
	h.calls = append(h.calls, label)
	if h.failOn != "" && label == h.failOn {
		return -1
	}
	return 0
}

func (h *recordingHandler) HandleAdd(n int64, dn string, mods []model.LdapMod) int {
	return h.maybeFail("add:" + dn)
}
func (h *recordingHandler) HandleDelete(n int64, dn string) int {
	return h.maybeFail("delete:" + dn)
}
func (h *recordingHandler) HandleChange(n int64, oldDN, newDN string, mods []model.LdapMod) int {
	return h.maybeFail("change:" + oldDN + "->" + newDN)
}
func (h *recordingHandler) HandleRename(n int64, oldDN string, newEntry *model.Entry) int {
	return h.maybeFail("rename:" + oldDN + "->" + newEntry.DN)
}
func (h *recordingHandler) HandleRename0(n int64, oldDN, newDN string, deleteOldRDN bool) int {
	return h.maybeFail("rename0:" + oldDN + "->" + newDN)
}

func TestOffsetInversionInvolution(t *testing.T) {
	for _, x := range []int64{-1, 0, 1, 5, 1000} {
		assert.Equal(t, x, invert(invert(x)))
	}
}

func TestCompareStreamsEmptyEmpty(t *testing.T) {
	clean := ldif.New(nil)
	data := ldif.New(nil)
	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, nil, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	assert.Empty(t, h.calls)
}

func TestS1CommitNewDescription(t *testing.T) {
	clean := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n"))
	data := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\ndescription: hi\n\n"))
	offsets := []int64{1}
	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "change:cn=foo,dc=ex->cn=foo,dc=ex", h.calls[0])
	assert.Equal(t, int64(1), offsets[0])
}

func TestS2DeleteEntry(t *testing.T) {
	clean := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n"))
	data := ldif.New(nil)
	offsets := []int64{1}
	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "delete:cn=foo,dc=ex", h.calls[0])
}

func TestS3RenameWithDeleteOldRDN(t *testing.T) {
	clean := ldif.New([]byte("\ndn: cn=old,dc=ex\nldapvi-key: 0\ncn: old\n\n"))
	data := ldif.New([]byte("\ndn: cn=new,dc=ex\nldapvi-key: 0\ncn: new\n\n"))
	offsets := []int64{1}
	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	require.GreaterOrEqual(t, len(h.calls), 1)
	assert.Equal(t, "rename:cn=old,dc=ex->cn=new,dc=ex", h.calls[0])
}

func TestS4ImmediateAddChangeRecord(t *testing.T) {
	data := ldif.New([]byte("dn: cn=x,dc=ex\nchangetype: add\ncn: x\nsn: t\n\n"))
	h := &recordingHandler{}
	code, err := CompareStreams(ldif.New(nil), data, nil, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "add:cn=x,dc=ex", h.calls[0])
}

func TestS5FastSkipThenModification(t *testing.T) {
	rec1 := "\ndn: cn=a,dc=ex\nldapvi-key: 0\ncn: a\n\n"
	rec2 := "\ndn: cn=b,dc=ex\nldapvi-key: 1\ncn: b\n\n"
	cleanBytes := []byte(rec1 + rec2)
	dataRec2 := "\ndn: cn=b,dc=ex\nldapvi-key: 1\ncn: b\ndescription: new\n\n"
	dataBytes := []byte(rec1 + dataRec2)

	clean := ldif.New(cleanBytes)
	data := ldif.New(dataBytes)
	offsets := []int64{1, int64(len(rec1) + 1)}

	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "change:cn=b,dc=ex->cn=b,dc=ex", h.calls[0])
}

func TestNoChangeIdentity(t *testing.T) {
	content := []byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n")
	clean := ldif.New(content)
	data := ldif.New(content)
	offsets := []int64{1}
	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	assert.Empty(t, h.calls)
	assert.Equal(t, int64(1), offsets[0])
}

func TestDuplicateNumericKeyIsParseError(t *testing.T) {
	clean := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n"))
	data := ldif.New([]byte(
		"\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n" +
			"\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: bar\n\n"))
	offsets := []int64{1}
	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	assert.Equal(t, ParseError, code)
	assert.Error(t, err)
	assert.Equal(t, int64(1), offsets[0])
}

func TestUnknownNumericKeyIsParseError(t *testing.T) {
	clean := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n"))
	data := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 5\ncn: foo\n\n"))
	offsets := []int64{1}
	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	assert.Equal(t, ParseError, code)
	assert.Error(t, err)
}

func TestHandlerFailurePreservesOffsetsMidInversion(t *testing.T) {
	clean := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\n\n"))
	data := ldif.New([]byte("\ndn: cn=foo,dc=ex\nldapvi-key: 0\ncn: foo\ndescription: hi\n\n"))
	offsets := []int64{1}
	h := &recordingHandler{failOn: "change:cn=foo,dc=ex->cn=foo,dc=ex"}
	code, err := CompareStreams(clean, data, offsets, h)
	assert.Equal(t, HandlerFail, code)
	assert.Error(t, err)
	// The engine must not have un-inverted offsets[0] on a handler failure,
	// since it never got marked seen in the first place for *this* call —
	// but the vector must not have been silently restored either.
	assert.NotEqual(t, int64(-2), offsets[0])
}

func TestDeletePostPassOnlyFiresForUnseenOffsets(t *testing.T) {
	rec1 := "\ndn: cn=a,dc=ex\nldapvi-key: 0\ncn: a\n\n"
	rec2 := "\ndn: cn=b,dc=ex\nldapvi-key: 1\ncn: b\n\n"
	clean := ldif.New([]byte(rec1 + rec2))
	data := ldif.New([]byte(rec1))
	offsets := []int64{1, int64(len(rec1) + 1)}

	h := &recordingHandler{}
	code, err := CompareStreams(clean, data, offsets, h)
	require.NoError(t, err)
	assert.Equal(t, OK, code)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "delete:cn=b,dc=ex", h.calls[0])
	assert.Equal(t, int64(len(rec1)+1), offsets[1])
}

func TestEmptyFileReturnsEndOnFirstCall(t *testing.T) {
	p := ldif.New(nil)
	_, _, _, err := p.ReadEntry(nil)
	assert.Equal(t, record.ErrEnd, err)
}
