package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/iambrandonn/datascout/internal/conversation"
)

// ErrScriptExhausted is returned once every scripted reply has been used
var ErrScriptExhausted = errors.New("oracle script exhausted")

// Script replays canned replies in order. It stands in for a model in
// offline runs and tests.
type Script struct {
	mu      sync.Mutex
	replies []string
	next    int
}

// NewScript creates a script oracle
func NewScript(replies ...string) *Script {
	return &Script{replies: replies}
}

type scriptFile struct {
	Replies []string `yaml:"replies"`
}

// LoadScript reads replies from a YAML file of the form
//
//	replies:
//	  - "1. Load the data"
//	  - "Load the data"
//	  - "import pandas as pd"
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read oracle script: %w", err)
	}

	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse oracle script %s: %w", path, err)
	}
	if len(f.Replies) == 0 {
		return nil, fmt.Errorf("oracle script %s has no replies", path)
	}
	return NewScript(f.Replies...), nil
}

// Complete implements Oracle
func (s *Script) Complete(ctx context.Context, entries []conversation.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.replies) {
		return "", ErrScriptExhausted
	}
	reply := s.replies[s.next]
	s.next++
	return reply, nil
}
