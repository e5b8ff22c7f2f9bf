package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAppendOnly(t *testing.T) {
	c := New("be helpful")
	c.Append(RoleUser, "plan?")
	c.Append(RoleAssistant, "1. load")

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Role: RoleSystem, Text: "be helpful"}, entries[0])
	assert.Equal(t, RoleAssistant, entries[2].Role)

	// mutating the copy leaves the context alone
	entries[0].Text = "changed"
	assert.Equal(t, "be helpful", c.Entries()[0].Text)

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "1. load", last.Text)
}

func TestNewWithoutSystem(t *testing.T) {
	c := New("")
	assert.Equal(t, 0, c.Len())

	_, ok := c.Last()
	assert.False(t, ok)
}

func TestRender(t *testing.T) {
	got := Render([]Entry{
		{Role: RoleSystem, Text: "sys"},
		{Role: RoleUser, Text: "hi"},
	})
	assert.Equal(t, "[system]\nsys\n\n[user]\nhi", got)
}
