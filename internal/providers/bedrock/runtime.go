package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	runtimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/pkg/models"
)

// DefaultRuntimeModel is used when a CompletionRequest doesn't name one.
const DefaultRuntimeModel = "anthropic.claude-sonnet-4-20250514-v1:0"

// RuntimeConfig configures the Bedrock completion provider. Credentials
// fall back to the default AWS chain (environment, IAM role) when not
// set explicitly.
type RuntimeConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// RuntimeProvider implements agent.LLMProvider on the Bedrock
// ConverseStream API, giving access to foundation models hosted on AWS.
// It pairs with this package's model discovery: discovery fills the
// model catalog, this type serves completions against it.
type RuntimeProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

// NewRuntimeProvider creates a Bedrock-backed completion provider.
func NewRuntimeProvider(cfg RuntimeConfig) (*RuntimeProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultRuntimeModel
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &RuntimeProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
	}, nil
}

// Name returns the provider identifier.
func (p *RuntimeProvider) Name() string { return "bedrock" }

// SupportsTools reports tool-use support (the Converse API's toolConfig).
func (p *RuntimeProvider) SupportsTools() bool { return true }

// Models returns a static catalog; Discovery (discovery.go) supersedes it
// when enabled.
func (p *RuntimeProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "anthropic.claude-sonnet-4-20250514-v1:0", Name: "Claude Sonnet 4 (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-5-haiku-20241022-v1:0", Name: "Claude 3.5 Haiku (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "meta.llama3-3-70b-instruct-v1:0", Name: "Llama 3.3 70B (Bedrock)", ContextSize: 128000, SupportsVision: false},
	}
}

// Complete issues one ConverseStream call and adapts its event stream to
// CompletionChunks.
func (p *RuntimeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertRuntimeMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []runtimetypes.SystemContentBlock{
			&runtimetypes.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &runtimetypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = convertRuntimeTools(req.Tools)
	}

	stream, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *RuntimeProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- *agent.CompletionChunk) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder

	flushToolCall := func() {
		if currentToolCall == nil || currentToolCall.ID == "" {
			return
		}
		currentToolCall.Input = json.RawMessage(toolInput.String())
		chunks <- &agent.CompletionChunk{ToolCall: currentToolCall}
		currentToolCall = nil
		toolInput.Reset()
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		case event, ok := <-eventStream.Events():
			if !ok {
				flushToolCall()
				if err := eventStream.Err(); err != nil {
					chunks <- &agent.CompletionChunk{Error: fmt.Errorf("bedrock: %w", err), Done: true}
				} else {
					chunks <- &agent.CompletionChunk{Done: true}
				}
				return
			}

			switch ev := event.(type) {
			case *runtimetypes.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*runtimetypes.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}
			case *runtimetypes.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *runtimetypes.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- &agent.CompletionChunk{Text: delta.Value}
					}
				case *runtimetypes.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *runtimetypes.ConverseStreamOutputMemberContentBlockStop:
				flushToolCall()
			case *runtimetypes.ConverseStreamOutputMemberMessageStop:
				chunks <- &agent.CompletionChunk{Done: true}
				return
			}
		}
	}
}

// convertRuntimeMessages maps the unified message format onto Converse
// messages. System messages travel separately; image attachments are
// supported as data URLs (remote fetch belongs to the caller).
func convertRuntimeMessages(messages []agent.CompletionMessage) []runtimetypes.Message {
	result := make([]runtimetypes.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []runtimetypes.ContentBlock
		if msg.Content != "" {
			content = append(content, &runtimetypes.ContentBlockMemberText{Value: msg.Content})
		}

		for _, attachment := range msg.Attachments {
			if attachment.Type != "image" {
				continue
			}
			if block, ok := imageBlockFromDataURL(attachment.URL); ok {
				content = append(content, block)
			}
		}

		for _, tr := range msg.ToolResults {
			content = append(content, &runtimetypes.ContentBlockMemberToolResult{
				Value: runtimetypes.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content: []runtimetypes.ToolResultContentBlock{
						&runtimetypes.ToolResultContentBlockMemberText{Value: tr.Content},
					},
				},
			})
		}

		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal(tc.Input, &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &runtimetypes.ContentBlockMemberToolUse{
				Value: runtimetypes.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		if len(content) == 0 {
			continue
		}
		role := runtimetypes.ConversationRoleUser
		if msg.Role == "assistant" {
			role = runtimetypes.ConversationRoleAssistant
		}
		result = append(result, runtimetypes.Message{Role: role, Content: content})
	}
	return result
}

func imageBlockFromDataURL(url string) (*runtimetypes.ContentBlockMemberImage, bool) {
	if !strings.HasPrefix(url, "data:") {
		return nil, false
	}
	parts := strings.SplitN(url, ",", 2)
	if len(parts) != 2 {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}

	format := runtimetypes.ImageFormatJpeg
	switch {
	case strings.Contains(parts[0], "png"):
		format = runtimetypes.ImageFormatPng
	case strings.Contains(parts[0], "gif"):
		format = runtimetypes.ImageFormatGif
	case strings.Contains(parts[0], "webp"):
		format = runtimetypes.ImageFormatWebp
	}

	return &runtimetypes.ContentBlockMemberImage{
		Value: runtimetypes.ImageBlock{
			Format: format,
			Source: &runtimetypes.ImageSourceMemberBytes{Value: data},
		},
	}, true
}

// convertRuntimeTools maps agent tools onto the Converse toolConfig.
func convertRuntimeTools(tools []agent.Tool) *runtimetypes.ToolConfiguration {
	bedrockTools := make([]runtimetypes.Tool, len(tools))
	for i, tool := range tools {
		var schema any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &runtimetypes.ToolMemberToolSpec{
			Value: runtimetypes.ToolSpecification{
				Name:        aws.String(tool.Name()),
				Description: aws.String(tool.Description()),
				InputSchema: &runtimetypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &runtimetypes.ToolConfiguration{Tools: bedrockTools}
}

var _ agent.LLMProvider = (*RuntimeProvider)(nil)
