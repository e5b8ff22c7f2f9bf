// Package transcript turns a session into a notebook and renders progress
// lines for the console.
package transcript

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/iambrandonn/datascout/internal/fsutil"
	"github.com/iambrandonn/datascout/internal/notebook"
	"github.com/iambrandonn/datascout/internal/session"
)

// ErrFinalized is returned when adding to a built transcript
var ErrFinalized = errors.New("transcript finalized")

// Builder collects notes and executed steps in order
type Builder struct {
	mu        sync.Mutex
	nb        *notebook.Notebook
	finalized bool
	metadata  map[string]any
}

// NewBuilder creates an empty transcript
func NewBuilder() *Builder {
	return &Builder{nb: notebook.New()}
}

// SetMetadata records a notebook-level metadata key under "datascout"
func (b *Builder) SetMetadata(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.metadata == nil {
		b.metadata = map[string]any{}
	}
	b.metadata[key] = value
}

// AddNote appends a commented-out code cell holding text
func (b *Builder) AddNote(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return ErrFinalized
	}
	b.nb.AddCell(notebook.NewCodeCell(Comment(text)))
	return nil
}

// AddStep appends the code cell of an executed step with its outputs
func (b *Builder) AddStep(step session.Step) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return ErrFinalized
	}

	var outputs []notebook.Output
	if step.Output != "" {
		outputs = append(outputs, notebook.StreamOutput("stdout", step.Output))
	}
	if step.Error != nil {
		outputs = append(outputs, notebook.ErrorOutput(step.Error.Summary, step.Error.Value, step.Error.Trace))
	}

	cell := notebook.NewCodeCell(step.Code, outputs...)
	if step.Interrupted {
		cell.Metadata["datascout"] = map[string]any{"interrupted": true}
	}
	b.nb.AddCell(cell)
	return nil
}

// Len returns the number of cells so far
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nb.Cells)
}

// Build seals the transcript and returns the notebook. Later calls return
// the same notebook.
func (b *Builder) Build() *notebook.Notebook {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.finalized {
		b.finalized = true
		if len(b.metadata) > 0 {
			b.nb.Metadata.DataScout = b.metadata
		}
	}
	return b.nb
}

// Finalize builds the notebook and writes it atomically to path
func (b *Builder) Finalize(path string) (fsutil.Artifact, error) {
	nb := b.Build()
	artifact, err := nb.Write(path)
	if err != nil {
		return fsutil.Artifact{}, fmt.Errorf("failed to finalize transcript: %w", err)
	}
	return artifact, nil
}

// Comment prefixes every line of text with "# " unless it already starts
// with "#"
func Comment(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "#") {
			lines[i] = "# " + line
		}
	}
	return strings.Join(lines, "\n")
}
