package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/arcflow/agentcore/internal/agent"
)

// MemoryStore is an in-memory agent.ThreadStore for tests and ephemeral
// single-process runs.
type MemoryStore struct {
	mu       sync.Mutex
	messages []*agent.ThreadMessage
	projects map[string]*agent.Project
	clock    clock
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*agent.Project),
		clock:    monotonicClock(),
	}
}

// GetLatestMessage returns the most recent message of any of the given
// kinds, or nil when the thread has none.
func (s *MemoryStore) GetLatestMessage(ctx context.Context, threadID string, kinds []agent.MessageKind) (*agent.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[agent.MessageKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ThreadID == threadID && allowed[m.Kind] {
			return cloneMessage(m), nil
		}
	}
	return nil, nil
}

// AddMessage appends a message and returns its assigned id.
func (s *MemoryStore) AddMessage(ctx context.Context, threadID string, kind agent.MessageKind, content json.RawMessage, isLLMVisible bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(content) == 0 {
		content = json.RawMessage("null")
	}
	msg := &agent.ThreadMessage{
		ID:           uuid.NewString(),
		ThreadID:     threadID,
		Kind:         kind,
		Content:      append(json.RawMessage(nil), content...),
		IsLLMVisible: isLLMVisible,
		CreatedAt:    s.clock(),
	}
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

// DeleteMessage removes a message by id. Deleting an absent id succeeds.
func (s *MemoryStore) DeleteMessage(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.messages {
		if m.ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return nil
		}
	}
	return nil
}

// History returns the most recent limit messages in insertion order.
func (s *MemoryStore) History(ctx context.Context, threadID string, limit int) ([]*agent.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*agent.ThreadMessage
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, cloneMessage(m))
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetProject loads a project with its sandbox descriptor.
func (s *MemoryStore) GetProject(ctx context.Context, projectID string) (*agent.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return cloneProject(p), nil
}

// CreateProject inserts a project if absent.
func (s *MemoryStore) CreateProject(ctx context.Context, projectID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; ok {
		return nil
	}
	s.projects[projectID] = &agent.Project{ID: projectID, AccountID: accountID}
	return nil
}

// SetSandbox stores (or clears, with nil) the project's sandbox descriptor.
func (s *MemoryStore) SetSandbox(ctx context.Context, projectID string, descriptor *agent.SandboxDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if descriptor == nil {
		p.Sandbox = nil
		return nil
	}
	clone := *descriptor
	p.Sandbox = &clone
	return nil
}

func cloneMessage(m *agent.ThreadMessage) *agent.ThreadMessage {
	clone := *m
	clone.Content = append(json.RawMessage(nil), m.Content...)
	return &clone
}

func cloneProject(p *agent.Project) *agent.Project {
	clone := *p
	if p.Sandbox != nil {
		sandboxClone := *p.Sandbox
		clone.Sandbox = &sandboxClone
	}
	return &clone
}

var _ agent.ThreadStore = (*MemoryStore)(nil)
