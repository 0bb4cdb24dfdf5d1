package agent

import (
	"context"
	"encoding/json"
	"time"
)

// MessageKind classifies a ThreadMessage. Unlike models.Role (which
// distinguishes speaker), MessageKind also carries the ephemeral
// browser/image injection kinds the agent driver consumes per iteration.
type MessageKind string

const (
	MessageKindUser         MessageKind = "user"
	MessageKindAssistant    MessageKind = "assistant"
	MessageKindTool         MessageKind = "tool"
	MessageKindStatus       MessageKind = "status"
	MessageKindBrowserState MessageKind = "browser_state"
	MessageKindImageContext MessageKind = "image_context"
)

// ThreadMessage is one entry in a Thread's append-only message sequence.
//
// Invariant: once inserted, a ThreadMessage is never mutated. Corrections
// are represented as new messages. For a given ThreadID, CreatedAt is
// strictly increasing across inserted messages.
type ThreadMessage struct {
	ID           string          `json:"id"`
	ThreadID     string          `json:"thread_id"`
	Kind         MessageKind     `json:"kind"`
	Content      json.RawMessage `json:"content"`
	IsLLMVisible bool            `json:"is_llm_visible"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Thread is the ordered, append-only sequence of messages scoped to a
// thread_id that the agent driver operates on.
type Thread struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	AccountID string    `json:"account_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SandboxType selects a SandboxProvider backend.
type SandboxType string

const (
	SandboxTypeLocal   SandboxType = "local"
	SandboxTypeManaged SandboxType = "managed"
)

// SandboxState is the lifecycle state of a SandboxDescriptor.
// Transitions: absent -> created -> running -> stopped -> removed.
// created and stopped both recover to running via restart; removed is terminal.
type SandboxState string

const (
	SandboxAbsent  SandboxState = "absent"
	SandboxCreated SandboxState = "created"
	SandboxRunning SandboxState = "running"
	SandboxStopped SandboxState = "stopped"
	SandboxRemoved SandboxState = "removed"
)

// SandboxDescriptor is the persisted record of a project's sandbox
// container/instance. A project owns at most one non-null descriptor
// at any time (see Project.SandboxDescriptor).
type SandboxDescriptor struct {
	Type         SandboxType       `json:"type"`
	ID           string            `json:"id"`
	State        SandboxState      `json:"state"`
	VNCEndpoint  string            `json:"vnc_endpoint,omitempty"`
	WebEndpoint  string            `json:"web_endpoint,omitempty"`
	VNCPassword  string            `json:"vnc_password,omitempty"`
	HostPortMap  map[int]int       `json:"host_port_map,omitempty"`
	Bootstrapped bool              `json:"bootstrapped"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Project owns exactly one Sandbox descriptor (or none) and belongs to
// exactly one account owner.
type Project struct {
	ID        string             `json:"id"`
	AccountID string             `json:"account_id"`
	Sandbox   *SandboxDescriptor `json:"sandbox,omitempty"`
}

// AgentIterationState tracks the per-call bookkeeping the AgentDriver
// uses to decide whether to continue looping.
type AgentIterationState struct {
	IterationIndex           int
	MaxIterations            int
	LastToolName             string
	TerminateRequested       bool
	ErrorFlagged             bool
	AccumulatedAssistantText string
}

// TerminatorTag is one of the canonical end-of-turn markers. Closing any
// of these in the assistant stream sets TerminateRequested.
type TerminatorTag string

const (
	TerminatorAsk                TerminatorTag = "ask"
	TerminatorComplete           TerminatorTag = "complete"
	TerminatorWebBrowserTakeover TerminatorTag = "web-browser-takeover"
)

// IsTerminator reports whether tag names one of the three canonical
// terminator tags.
func IsTerminator(tag string) bool {
	switch TerminatorTag(tag) {
	case TerminatorAsk, TerminatorComplete, TerminatorWebBrowserTakeover:
		return true
	default:
		return false
	}
}

// ThreadStore is the persistent store interface the core consumes for
// thread/message/project operations. internal/threads carries the
// concrete Postgres/SQLite/memory implementations.
type ThreadStore interface {
	GetLatestMessage(ctx context.Context, threadID string, kinds []MessageKind) (*ThreadMessage, error)
	AddMessage(ctx context.Context, threadID string, kind MessageKind, content json.RawMessage, isLLMVisible bool) (string, error)
	DeleteMessage(ctx context.Context, messageID string) error
	History(ctx context.Context, threadID string, limit int) ([]*ThreadMessage, error)

	GetProject(ctx context.Context, projectID string) (*Project, error)
	SetSandbox(ctx context.Context, projectID string, descriptor *SandboxDescriptor) error
}

// BillingService is the billing/quota external interface the AgentDriver
// gates each iteration on.
type BillingService interface {
	Check(ctx context.Context, accountID string) (canRun bool, message string, info SubscriptionInfo, err error)
}

// SubscriptionInfo carries the billing plan context surfaced to clients
// alongside a can-run decision.
type SubscriptionInfo struct {
	Tier      string    `json:"tier"`
	SeatsUsed int       `json:"seats_used"`
	RenewsAt  time.Time `json:"renews_at,omitempty"`
}
