// Package notebook reads and writes Jupyter notebooks (nbformat 4.5).
package notebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/iambrandonn/datascout/internal/fsutil"
)

// Format version written by this package
const (
	Format      = 4
	FormatMinor = 5
)

// ErrUnsupportedFormat is returned by Read for anything but nbformat 4
var ErrUnsupportedFormat = errors.New("unsupported notebook format")

// Notebook is a Jupyter notebook document
type Notebook struct {
	Cells         []Cell   `json:"cells"`
	Metadata      Metadata `json:"metadata"`
	NBFormat      int      `json:"nbformat"`
	NBFormatMinor int      `json:"nbformat_minor"`
}

// Metadata is the notebook-level metadata
type Metadata struct {
	KernelSpec   *KernelSpec    `json:"kernelspec,omitempty"`
	LanguageInfo *LanguageInfo  `json:"language_info,omitempty"`
	DataScout    map[string]any `json:"datascout,omitempty"`
}

// KernelSpec names the kernel the notebook was produced with
type KernelSpec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

// LanguageInfo describes the notebook language
type LanguageInfo struct {
	Name string `json:"name"`
}

// Cell is a notebook cell. Only code cells are produced.
type Cell struct {
	ID             string         `json:"id"`
	CellType       string         `json:"cell_type"`
	ExecutionCount *int           `json:"execution_count"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []Output       `json:"outputs"`
	Source         Text           `json:"source"`
}

// Output types
const (
	OutputStream        = "stream"
	OutputError         = "error"
	OutputExecuteResult = "execute_result"
	OutputDisplayData   = "display_data"
)

// Output is one cell output
type Output struct {
	OutputType     string
	Name           string // stream
	Text           Text   // stream
	EName          string // error
	EValue         string // error
	Traceback      []string
	Data           map[string]any // execute_result, display_data
	ExecutionCount *int           // execute_result
}

// Text is a multiline string. nbformat allows a string or a list of lines;
// it is written as a list of lines with line endings kept.
type Text string

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(splitLines(string(t)))
}

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("multiline text must be a string or a list of strings: %w", err)
	}
	*t = Text(strings.Join(lines, ""))
	return nil
}

func splitLines(s string) []string {
	lines := []string{}
	for s != "" {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			break
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
	}
	return lines
}

type rawOutput struct {
	OutputType     string         `json:"output_type"`
	Name           string         `json:"name,omitempty"`
	Text           *Text          `json:"text,omitempty"`
	EName          *string        `json:"ename,omitempty"`
	EValue         *string        `json:"evalue,omitempty"`
	Traceback      []string       `json:"traceback,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
}

// MarshalJSON writes exactly the fields the output type requires
func (o Output) MarshalJSON() ([]byte, error) {
	switch o.OutputType {
	case OutputStream:
		text := o.Text
		return json.Marshal(rawOutput{OutputType: o.OutputType, Name: o.Name, Text: &text})

	case OutputError:
		ename, evalue := o.EName, o.EValue
		tb := o.Traceback
		if tb == nil {
			tb = []string{}
		}
		// traceback is required even when empty
		return json.Marshal(struct {
			OutputType string   `json:"output_type"`
			EName      string   `json:"ename"`
			EValue     string   `json:"evalue"`
			Traceback  []string `json:"traceback"`
		}{o.OutputType, ename, evalue, tb})

	case OutputExecuteResult:
		return json.Marshal(struct {
			OutputType     string         `json:"output_type"`
			Data           map[string]any `json:"data"`
			Metadata       map[string]any `json:"metadata"`
			ExecutionCount *int           `json:"execution_count"`
		}{o.OutputType, nonNil(o.Data), map[string]any{}, o.ExecutionCount})

	case OutputDisplayData:
		return json.Marshal(struct {
			OutputType string         `json:"output_type"`
			Data       map[string]any `json:"data"`
			Metadata   map[string]any `json:"metadata"`
		}{o.OutputType, nonNil(o.Data), map[string]any{}})

	default:
		return nil, fmt.Errorf("unknown output type %q", o.OutputType)
	}
}

func (o *Output) UnmarshalJSON(data []byte) error {
	var raw rawOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Output{
		OutputType:     raw.OutputType,
		Name:           raw.Name,
		Traceback:      raw.Traceback,
		Data:           raw.Data,
		ExecutionCount: raw.ExecutionCount,
	}
	if raw.Text != nil {
		o.Text = *raw.Text
	}
	if raw.EName != nil {
		o.EName = *raw.EName
	}
	if raw.EValue != nil {
		o.EValue = *raw.EValue
	}
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// New creates an empty notebook for a python3 kernel
func New() *Notebook {
	return &Notebook{
		Cells: []Cell{},
		Metadata: Metadata{
			KernelSpec: &KernelSpec{
				Name:        "python3",
				DisplayName: "Python 3",
				Language:    "python",
			},
			LanguageInfo: &LanguageInfo{Name: "python"},
		},
		NBFormat:      Format,
		NBFormatMinor: FormatMinor,
	}
}

// NewCodeCell creates a code cell with a fresh id
func NewCodeCell(source string, outputs ...Output) Cell {
	if outputs == nil {
		outputs = []Output{}
	}
	return Cell{
		ID:       uuid.NewString(),
		CellType: "code",
		Metadata: map[string]any{},
		Outputs:  outputs,
		Source:   Text(source),
	}
}

// StreamOutput creates a stream output
func StreamOutput(name, text string) Output {
	return Output{OutputType: OutputStream, Name: name, Text: Text(text)}
}

// ErrorOutput creates an error output
func ErrorOutput(ename, evalue string, traceback []string) Output {
	return Output{OutputType: OutputError, EName: ename, EValue: evalue, Traceback: traceback}
}

// AddCell appends a cell
func (nb *Notebook) AddCell(c Cell) {
	nb.Cells = append(nb.Cells, c)
}

// Marshal renders the notebook the way Jupyter does: one-space indent and a
// trailing newline
func (nb *Notebook) Marshal() ([]byte, error) {
	return fsutil.MarshalIndent(nb)
}

// Write saves the notebook atomically: the file at path is either the old
// content or the complete new notebook
func (nb *Notebook) Write(path string) (fsutil.Artifact, error) {
	data, err := nb.Marshal()
	if err != nil {
		return fsutil.Artifact{}, err
	}
	artifact, err := fsutil.WriteArtifact(path, data, fsutil.Shared)
	if err != nil {
		return fsutil.Artifact{}, fmt.Errorf("failed to write notebook %s: %w", path, err)
	}
	return artifact, nil
}

// Parse decodes a notebook document
func Parse(data []byte) (*Notebook, error) {
	var nb Notebook
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&nb); err != nil {
		return nil, fmt.Errorf("failed to parse notebook: %w", err)
	}
	if nb.NBFormat != Format {
		return nil, fmt.Errorf("%w: nbformat %d", ErrUnsupportedFormat, nb.NBFormat)
	}
	return &nb, nil
}

// Read loads a notebook from disk
func Read(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}
	return Parse(data)
}
