// Package conversation holds the append-only message history shared with
// the planning oracle.
package conversation

import (
	"strings"
	"sync"
)

// Role names the author of an entry
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one message in the conversation
type Entry struct {
	Role Role   `json:"role"`
	Text string `json:"content"`
}

// Context is an ordered conversation. Entries are only ever appended.
type Context struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates a context seeded with a system message
func New(system string) *Context {
	c := &Context{}
	if system != "" {
		c.Append(RoleSystem, system)
	}
	return c
}

// Append adds an entry at the end
func (c *Context) Append(role Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Role: role, Text: text})
}

// Entries returns a copy of the conversation so far
func (c *Context) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries...)
}

// Len returns the number of entries
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Last returns the most recent entry
func (c *Context) Last() (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	return c.entries[len(c.entries)-1], true
}

// Render flattens entries into a plain-text transcript for oracles that take
// a single prompt
func Render(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(string(e.Role))
		b.WriteString("]\n")
		b.WriteString(e.Text)
	}
	return b.String()
}
