package client

import (
	"context"
	"sync"

	"github.com/fpt/klein-dm/pkg/agent/domain"
)

// SwitchableLLM forwards to a model that can be replaced between calls,
// so a running game can change backend without rebuilding its collaborators.
type SwitchableLLM struct {
	mu  sync.RWMutex
	llm domain.StructuredLLM
}

func NewSwitchableLLM(llm domain.StructuredLLM) *SwitchableLLM {
	return &SwitchableLLM{llm: llm}
}

// Swap installs llm and returns the previous model
func (s *SwitchableLLM) Swap(llm domain.StructuredLLM) domain.StructuredLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.llm
	s.llm = llm
	return prev
}

func (s *SwitchableLLM) current() domain.StructuredLLM {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.llm
}

func (s *SwitchableLLM) CompleteJSON(ctx context.Context, req domain.CompletionRequest) (string, error) {
	return s.current().CompleteJSON(ctx, req)
}

func (s *SwitchableLLM) ModelID() string {
	return s.current().ModelID()
}
