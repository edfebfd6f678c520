package prompt

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditorCommandPrefersVisualThenEditorThenVi(t *testing.T) {
	old := os.Getenv("VISUAL")
	oldE := os.Getenv("EDITOR")
	defer func() { os.Setenv("VISUAL", old); os.Setenv("EDITOR", oldE) }()

	os.Setenv("VISUAL", "")
	os.Setenv("EDITOR", "")
	assert.Equal(t, "vi", editorCommand())

	os.Setenv("EDITOR", "nano")
	assert.Equal(t, "nano", editorCommand())

	os.Setenv("VISUAL", "emacs")
	assert.Equal(t, "emacs", editorCommand())
}

func TestPagerCommandPrefersPagerThenLess(t *testing.T) {
	old := os.Getenv("PAGER")
	defer os.Setenv("PAGER", old)

	os.Setenv("PAGER", "")
	assert.Equal(t, "less", pagerCommand())

	os.Setenv("PAGER", "most")
	assert.Equal(t, "most", pagerCommand())
}

func TestControlChannelChoose(t *testing.T) {
	in := bytes.NewBufferString("CHOSE y\n")
	var out bytes.Buffer
	c := NewControlChannel(in, &out)

	ch, err := c.Choose("Action?", "yYqQ", "help text")
	require.NoError(t, err)
	assert.Equal(t, byte('y'), ch)
	assert.Equal(t, "CHOOSE yYqQ\n", out.String())
}

func TestControlChannelChooseMalformedReply(t *testing.T) {
	in := bytes.NewBufferString("NOPE\n")
	var out bytes.Buffer
	c := NewControlChannel(in, &out)

	_, err := c.Choose("Action?", "yYqQ", "")
	assert.Error(t, err)
}

func TestControlChannelEdit(t *testing.T) {
	in := bytes.NewBufferString("EDITED\n")
	var out bytes.Buffer
	c := NewControlChannel(in, &out)

	require.NoError(t, c.Edit("/tmp/data", nil))
	assert.Equal(t, "EDIT /tmp/data\n", out.String())
}

func TestControlChannelView(t *testing.T) {
	in := bytes.NewBufferString("VIEWED\n")
	var out bytes.Buffer
	c := NewControlChannel(in, &out)

	require.NoError(t, c.View("/tmp/view.ldif"))
	assert.Equal(t, "VIEW /tmp/view.ldif\n", out.String())
}

func TestControlChannelViewUnexpectedReply(t *testing.T) {
	in := bytes.NewBufferString("NOPE\n")
	var out bytes.Buffer
	c := NewControlChannel(in, &out)

	err := c.View("/tmp/view.ldif")
	assert.Error(t, err)
}

func TestControlChannelReadLine(t *testing.T) {
	in := bytes.NewBufferString("cn=admin,dc=example,dc=com\n")
	var out bytes.Buffer
	c := NewControlChannel(in, &out)

	line, err := c.ReadLine("Bind DN: ")
	require.NoError(t, err)
	assert.Equal(t, "cn=admin,dc=example,dc=com", line)
	assert.Equal(t, "READLINE Bind DN: \n", out.String())
}

func TestControlChannelReadPasswordUsesReadLineProtocol(t *testing.T) {
	in := bytes.NewBufferString("secret\n")
	var out bytes.Buffer
	c := NewControlChannel(in, &out)

	pw, err := c.ReadPassword("Password: ")
	require.NoError(t, err)
	assert.Equal(t, "secret", pw)
}
