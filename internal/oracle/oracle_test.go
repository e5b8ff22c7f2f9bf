package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/iambrandonn/datascout/internal/conversation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "print(1)", "print(1)"},
		{"python fence", "```python\nimport pandas as pd\ndf = pd.read_csv('a.csv')\n```", "import pandas as pd\ndf = pd.read_csv('a.csv')"},
		{"bare fence", "```\nx = 1\n```\n", "x = 1"},
		{"leading only", "```py\nx = 1", "x = 1"},
		{"surrounding whitespace", "\n\n  ```python\nx\n```  \n", "x"},
		{"inner fences kept", "s = '```'\nprint(s)", "s = '```'\nprint(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripCodeFences(tt.in))
		})
	}
}

func TestPlannerConversationOrder(t *testing.T) {
	conv := conversation.New(SystemPrompt)
	var seen [][]conversation.Entry
	o := Func(func(ctx context.Context, entries []conversation.Entry) (string, error) {
		seen = append(seen, entries)
		switch len(seen) {
		case 1:
			return "1. Load\n2. Describe", nil
		case 2:
			return "Load the CSV", nil
		default:
			return "```python\nimport pandas as pd\n```", nil
		}
	})
	p := NewPlanner(o, conv, discardLogger())

	var exchanges []Exchange
	p.OnExchange = func(e Exchange) { exchanges = append(exchanges, e) }

	plan, err := p.Plan(context.Background(), "birds.csv")
	require.NoError(t, err)
	assert.Equal(t, "1. Load\n2. Describe", plan)

	step, err := p.NextStep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Load the CSV", step)

	code, err := p.Code(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "import pandas as pd", code)

	p.Observe("This is the execution result: Output: . Error: None")

	entries := conv.Entries()
	require.Len(t, entries, 8)
	assert.Equal(t, conversation.RoleSystem, entries[0].Role)
	assert.Equal(t, "I have a dataset represented by CSV to explore. CSV file name is birds.csv. What is your plan? Give me the list of steps only and no other information.", entries[1].Text)
	assert.Equal(t, conversation.RoleAssistant, entries[2].Role)
	assert.Equal(t, StepPrompt, entries[3].Text)
	assert.Equal(t, CodePrompt, entries[5].Text)
	assert.Equal(t, "```python\nimport pandas as pd\n```", entries[6].Text, "the raw reply is kept in the conversation")
	assert.Equal(t, conversation.RoleUser, entries[7].Role)

	// the oracle sees the prompt as the last entry of every call
	for _, call := range seen {
		assert.Equal(t, conversation.RoleUser, call[len(call)-1].Role)
	}

	require.Len(t, exchanges, 3)
	assert.Equal(t, []string{"plan", "step", "code"}, []string{exchanges[0].Kind, exchanges[1].Kind, exchanges[2].Kind})
}

func TestPlannerErrors(t *testing.T) {
	boom := errors.New("quota exceeded")

	t.Run("oracle error", func(t *testing.T) {
		conv := conversation.New(SystemPrompt)
		p := NewPlanner(Func(func(context.Context, []conversation.Entry) (string, error) {
			return "", boom
		}), conv, discardLogger())

		_, err := p.NextStep(context.Background())
		assert.ErrorIs(t, err, boom)

		last, _ := conv.Last()
		assert.Equal(t, conversation.RoleUser, last.Role, "no assistant entry after a failed call")
	})

	t.Run("empty reply", func(t *testing.T) {
		p := NewPlanner(Func(func(context.Context, []conversation.Entry) (string, error) {
			return "  \n", nil
		}), conversation.New(""), discardLogger())

		_, err := p.Plan(context.Background(), "a.csv")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})
}

func TestOpenAI(t *testing.T) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	var got struct {
		Model    string    `json:"model"`
		Messages []message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"df.head()"}}]}`)
	}))
	defer srv.Close()

	o := NewOpenAI("sk-test", "gpt-3.5-turbo", srv.URL+"/", 5*time.Second)
	reply, err := o.Complete(context.Background(), []conversation.Entry{
		{Role: conversation.RoleSystem, Text: "sys"},
		{Role: conversation.RoleUser, Text: "code?"},
	})
	require.NoError(t, err)

	assert.Equal(t, "df.head()", reply)
	assert.Equal(t, "gpt-3.5-turbo", got.Model)
	assert.Equal(t, []message{{Role: "system", Content: "sys"}, {Role: "user", Content: "code?"}}, got.Messages)
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		is      error
	}{
		{"api error", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`, "returned 401: Incorrect API key", nil},
		{"non-json error", http.StatusBadGateway, `<html>bad gateway</html>`, "returned 502", nil},
		{"no choices", http.StatusOK, `{"choices":[]}`, "", ErrEmptyResponse},
		{"garbage", http.StatusOK, `not json`, "chat completion request failed", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOpenAI("", "m", srv.URL, time.Second).Complete(context.Background(), nil)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGeminiContents(t *testing.T) {
	contents, system := geminiContents([]conversation.Entry{
		{Role: conversation.RoleSystem, Text: "sys"},
		{Role: conversation.RoleUser, Text: "plan?"},
		{Role: conversation.RoleAssistant, Text: "1. load"},
	})

	require.NotNil(t, system)
	require.Len(t, system.Parts, 1)
	assert.Equal(t, "sys", system.Parts[0].Text)

	require.Len(t, contents, 2)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, "1. load", contents[1].Parts[0].Text)
}

func TestScript(t *testing.T) {
	s := NewScript("a", "b")

	r, err := s.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", r)

	r, err = s.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "b", r)

	_, err = s.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestLoadScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oracle.yaml")
	require.NoError(t, os.WriteFile(path, []byte("replies:\n  - \"1. Load\"\n  - |\n    print('hi')\n"), 0644))

	s, err := LoadScript(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1. Load", "print('hi')\n"}, s.replies)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("replies: []\n"), 0644))
	_, err = LoadScript(empty)
	assert.Error(t, err)

	_, err = LoadScript(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLimited(t *testing.T) {
	calls := 0
	base := Func(func(context.Context, []conversation.Entry) (string, error) {
		calls++
		return "ok", nil
	})

	_, wrapped := Limited(base, 0).(*limited)
	assert.False(t, wrapped, "no rate leaves the oracle unwrapped")

	l := Limited(base, 1)
	_, err := l.Complete(context.Background(), nil)
	require.NoError(t, err)

	// the second call has to wait a minute; a short deadline gives up instead
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Complete(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "llm.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestCommand(t *testing.T) {
	path := writeScript(t, "cat > /dev/null\necho 'noise' >&2\necho '  df.describe()  '\n")

	c := NewCommand(DefaultCommandConfig(path), discardLogger())
	reply, err := c.Complete(context.Background(), []conversation.Entry{{Role: conversation.RoleUser, Text: "code?"}})
	require.NoError(t, err)
	assert.Equal(t, "df.describe()", reply)
}

func TestCommandReceivesConversation(t *testing.T) {
	path := writeScript(t, "cat\n")

	c := NewCommand(DefaultCommandConfig(path), discardLogger())
	reply, err := c.Complete(context.Background(), []conversation.Entry{
		{Role: conversation.RoleSystem, Text: "sys"},
		{Role: conversation.RoleUser, Text: "next?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[system]\nsys\n\n[user]\nnext?", reply)
}

func TestCommandLimits(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		path := writeScript(t, "exec sleep 5\n")
		cfg := DefaultCommandConfig(path)
		cfg.Timeout = 100 * time.Millisecond

		_, err := NewCommand(cfg, discardLogger()).Complete(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("size limit", func(t *testing.T) {
		path := writeScript(t, "head -c 4096 /dev/zero\n")
		cfg := DefaultCommandConfig(path)
		cfg.MaxOutputBytes = 100

		_, err := NewCommand(cfg, discardLogger()).Complete(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds size limit")
	})
}

func TestNewProviders(t *testing.T) {
	ctx := context.Background()

	o, err := New(ctx, Options{Provider: "openai", Model: "gpt-3.5-turbo"}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, o)

	o, err = New(ctx, Options{Provider: "openai", RequestsPerMinute: 30}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &limited{}, o)

	_, err = New(ctx, Options{Provider: "command"}, discardLogger())
	assert.Error(t, err)

	_, err = New(ctx, Options{Provider: "carrier-pigeon"}, discardLogger())
	assert.ErrorContains(t, err, "unknown oracle provider")
}
