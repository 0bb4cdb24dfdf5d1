package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/tools/sandbox"
)

// fakeStore is an in-memory agent.ThreadStore for tests.
type fakeStore struct {
	mu       sync.Mutex
	messages []*agent.ThreadMessage
	projects map[string]*agent.Project
	seq      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{projects: make(map[string]*agent.Project)}
}

func (s *fakeStore) GetLatestMessage(ctx context.Context, threadID string, kinds []agent.MessageKind) (*agent.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[agent.MessageKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ThreadID == threadID && allowed[m.Kind] {
			return m, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) AddMessage(ctx context.Context, threadID string, kind agent.MessageKind, content json.RawMessage, isLLMVisible bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("msg-%d", s.seq)
	s.messages = append(s.messages, &agent.ThreadMessage{
		ID: id, ThreadID: threadID, Kind: kind, Content: content,
		IsLLMVisible: isLLMVisible, CreatedAt: time.Unix(int64(s.seq), 0),
	})
	return id, nil
}

func (s *fakeStore) DeleteMessage(ctx context.Context, messageID string) error {
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

func (s *fakeStore) History(ctx context.Context, threadID string, limit int) ([]*agent.ThreadMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*agent.ThreadMessage
	for _, m := range s.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) GetProject(ctx context.Context, projectID string) (*agent.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return &agent.Project{ID: projectID, AccountID: "acct-" + projectID}, nil
	}
	return p, nil
}

func (s *fakeStore) SetSandbox(ctx context.Context, projectID string, descriptor *agent.SandboxDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		p = &agent.Project{ID: projectID, AccountID: "acct-" + projectID}
		s.projects[projectID] = p
	}
	p.Sandbox = descriptor
	return nil
}

// fakeBilling always allows unless denyAll is set.
type fakeBilling struct {
	denyAll bool
	message string
}

func (b *fakeBilling) Check(ctx context.Context, accountID string) (bool, string, agent.SubscriptionInfo, error) {
	if b.denyAll {
		return false, b.message, agent.SubscriptionInfo{}, nil
	}
	return true, "", agent.SubscriptionInfo{Tier: "pro"}, nil
}

// fakeProvider is an agent.LLMProvider that replays a fixed sequence of
// text chunks then closes, optionally ending with a Done chunk.
type fakeProvider struct {
	chunkBatches [][]string
	call         int
	mu           sync.Mutex
}

func (p *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	idx := p.call
	p.call++
	p.mu.Unlock()

	var texts []string
	if idx < len(p.chunkBatches) {
		texts = p.chunkBatches[idx]
	}

	ch := make(chan *agent.CompletionChunk, len(texts)+1)
	for _, t := range texts {
		ch <- &agent.CompletionChunk{Text: t}
	}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string          { return "fake" }
func (p *fakeProvider) Models() []agent.Model { return nil }
func (p *fakeProvider) SupportsTools() bool   { return true }

// echoTool is a minimal agent.Tool that echoes its input back as content.
type echoTool struct {
	name        string
	calls       int
	mu          sync.Mutex
	passthrough bool
}

func (t *echoTool) Name() string            { return t.name }
func (t *echoTool) Description() string     { return "echoes its params" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	t.mu.Lock()
	t.calls++
	t.mu.Unlock()
	return &agent.ToolResult{Content: string(params)}, nil
}
func (t *echoTool) IsMCPPassthrough() bool { return t.passthrough }

var _ sandbox.Provider = (*fakeSandboxProvider)(nil)

// fakeSandboxProvider tracks how many times Create is called per project,
// to test the at-most-one-sandbox invariant.
type fakeSandboxProvider struct {
	mu          sync.Mutex
	createCalls map[string]int
}

func newFakeSandboxProvider() *fakeSandboxProvider {
	return &fakeSandboxProvider{createCalls: make(map[string]int)}
}

func (f *fakeSandboxProvider) Ensure(ctx context.Context, projectID string, descriptor *sandbox.Descriptor) (sandbox.Handle, error) {
	if descriptor == nil {
		return nil, sandbox.ErrSandboxNotFound
	}
	return &fakeHandle{descriptor: *descriptor}, nil
}

func (f *fakeSandboxProvider) Create(ctx context.Context, projectID, password, image string) (sandbox.Handle, *sandbox.Descriptor, error) {
	f.mu.Lock()
	f.createCalls[projectID]++
	f.mu.Unlock()
	d := sandbox.Descriptor{Type: sandbox.BackendTypeLocal, ID: "sbx-" + projectID, State: sandbox.StateRunning}
	return &fakeHandle{descriptor: d}, &d, nil
}

func (f *fakeSandboxProvider) Remove(ctx context.Context, projectID string, descriptor *sandbox.Descriptor) (bool, error) {
	return descriptor != nil, nil
}

type fakeHandle struct {
	descriptor sandbox.Descriptor
}

func (h *fakeHandle) Descriptor() sandbox.Descriptor                             { return h.descriptor }
func (h *fakeHandle) Upload(ctx context.Context, path string, data []byte) error { return nil }
func (h *fakeHandle) List(ctx context.Context, path string) ([]sandbox.FileInfo, error) {
	return nil, nil
}
func (h *fakeHandle) Mkdir(ctx context.Context, path string, perm os.FileMode) error { return nil }
func (h *fakeHandle) Chmod(ctx context.Context, path string, perm os.FileMode) error { return nil }
func (h *fakeHandle) Exists(ctx context.Context, path string) (bool, error)          { return false, nil }
func (h *fakeHandle) Read(ctx context.Context, path string) ([]byte, error)          { return nil, nil }
func (h *fakeHandle) Exec(ctx context.Context, cmd, workdir string, timeout time.Duration) (string, string, int, error) {
	return "", "", 0, nil
}
func (h *fakeHandle) PreviewLink(containerPort int) (string, bool) { return "", false }
