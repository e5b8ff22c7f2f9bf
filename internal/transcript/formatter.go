package transcript

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iambrandonn/datascout/internal/execution"
	"github.com/iambrandonn/datascout/internal/fsutil"
	"github.com/iambrandonn/datascout/internal/protocol"
)

// Formatter formats session progress for console output
type Formatter struct{}

// NewFormatter creates a new transcript formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// FormatPlan formats the exploration plan
func (f *Formatter) FormatPlan(plan string) string {
	return fmt.Sprintf("[plan]\n%s", indent(plan))
}

// FormatStep formats the step announcement
func (f *Formatter) FormatStep(index int, step string) string {
	return fmt.Sprintf("[step %d] %s", index, firstLine(step))
}

// FormatCode formats the code about to run
func (f *Formatter) FormatCode(code string) string {
	return fmt.Sprintf("[code]\n%s", indent(code))
}

// FormatOutcome formats the result of one execution
func (f *Formatter) FormatOutcome(out execution.Outcome) string {
	var details []string

	switch {
	case out.Interrupted:
		details = append(details, "interrupted")
	case out.Exhausted:
		details = append(details, "timed out")
	case out.Error != nil:
		details = append(details, fmt.Sprintf("error: %s", out.Error.Error()))
	default:
		details = append(details, "ok")
	}
	if out.Output != "" {
		details = append(details, fmt.Sprintf("%d output lines", strings.Count(out.Output, "\n")))
	}
	details = append(details, fmt.Sprintf("%.1fs", out.Duration.Seconds()))

	return fmt.Sprintf("[kernel] %s", strings.Join(details, ", "))
}

// FormatMessage formats a raw kernel message
func (f *Formatter) FormatMessage(msg *protocol.Message) string {
	var details string

	switch msg.Type() {
	case protocol.MessageTypeStatus:
		if state, ok := msg.Content["execution_state"].(string); ok {
			details = state
		}
	case protocol.MessageTypeStream:
		if name, ok := msg.Content["name"].(string); ok {
			details = name
		}
	case protocol.MessageTypeError:
		if ename, ok := msg.Content["ename"].(string); ok {
			details = ename
		}
	case protocol.MessageTypeExecuteResult, protocol.MessageTypeDisplayData:
		if data, ok := msg.Content["data"].(map[string]any); ok {
			kinds := make([]string, 0, len(data))
			for k := range data {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			details = strings.Join(kinds, ",")
		}
	}

	if details != "" {
		return fmt.Sprintf("[kernel] %s: %s", msg.Type(), details)
	}
	return fmt.Sprintf("[kernel] %s", msg.Type())
}

// FormatArtifact formats a written file
func (f *Formatter) FormatArtifact(a fsutil.Artifact) string {
	return fmt.Sprintf("[notebook] %s (%s)", a.Path, f.formatSize(a.Size))
}

// formatSize formats a byte size in a human-readable format
func (f *Formatter) formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
	)

	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KiB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
