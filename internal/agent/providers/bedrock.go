package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrock/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/loom/internal/agent"
	"github.com/haasonsaas/loom/internal/agent/toolconv"
	"github.com/haasonsaas/loom/pkg/models"
)

// BedrockProvider implements agent.Provider for AWS Bedrock via the Converse
// API, which gives Claude, Nova, Llama, Mistral, and Cohere models a uniform
// message and tool-use shape.
//
// Authentication follows the AWS credential chain (environment, shared
// config, IAM role) unless explicit keys are configured. Model discovery
// uses the Bedrock control plane; accounts without ListFoundationModels
// permission fall back to a curated catalog.
type BedrockProvider struct {
	client  *bedrockruntime.Client
	control *bedrock.Client

	base BaseProvider

	defaultModel string
	region       string
}

// BedrockConfig holds configuration for the Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region. Default: "us-east-1".
	Region string

	// AccessKeyID for explicit credentials (optional, uses default chain if empty).
	AccessKeyID string

	// SecretAccessKey for explicit credentials (optional).
	SecretAccessKey string

	// SessionToken for temporary credentials (optional).
	SessionToken string

	// DefaultModel is used when a request names no model.
	// Default: "anthropic.claude-3-5-sonnet-20241022-v2:0".
	DefaultModel string

	// MaxRetries for transient failures. Default: 3.
	MaxRetries int

	// RetryDelay base delay between retries. Default: 1s.
	RetryDelay time.Duration
}

// NewBedrockProvider loads AWS configuration and builds the runtime and
// control-plane clients.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		control:      bedrock.NewFromConfig(awsCfg),
		base:         NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
	}, nil
}

// Name returns the provider identifier.
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Capabilities reports capabilities for the default Claude model family.
func (p *BedrockProvider) Capabilities() agent.Capabilities {
	return agent.Capabilities{
		ContextWindow:     200000,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportsVision:    true,
	}
}

// Models lists foundation models available to the account, enriched with
// curated metadata where known. Control-plane failures (commonly a missing
// bedrock:ListFoundationModels permission) fall back to the curated catalog.
func (p *BedrockProvider) Models(ctx context.Context) ([]models.ModelInfo, error) {
	curated := bedrockCatalog()

	out, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return curated, nil
	}

	known := make(map[string]models.ModelInfo, len(curated))
	for _, info := range curated {
		known[info.ID] = info
	}

	result := make([]models.ModelInfo, 0, len(out.ModelSummaries))
	for _, summary := range out.ModelSummaries {
		id := aws.ToString(summary.ModelId)
		if id == "" {
			continue
		}

		if info, ok := known[id]; ok {
			result = append(result, info)
			continue
		}

		info := models.ModelInfo{
			ID:                id,
			Provider:          "bedrock",
			Name:              aws.ToString(summary.ModelName),
			SupportsStreaming: aws.ToBool(summary.ResponseStreamingSupported),
		}
		for _, modality := range summary.InputModalities {
			if modality == bedrocktypes.ModelModalityImage {
				info.SupportsVision = true
			}
		}
		result = append(result, info)
	}

	if len(result) == 0 {
		return curated, nil
	}
	return result, nil
}

// bedrockCatalog returns curated metadata for commonly enabled models.
// Bedrock pricing varies by region and commitment, so prices stay unset.
func bedrockCatalog() []models.ModelInfo {
	catalog := []models.ModelInfo{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet v2 (Bedrock)", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ID: "anthropic.claude-3-5-haiku-20241022-v1:0", Name: "Claude 3.5 Haiku (Bedrock)", ContextWindow: 200000, SupportsTools: true},
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextWindow: 200000, SupportsTools: true, SupportsVision: true},
		{ID: "amazon.nova-pro-v1:0", Name: "Amazon Nova Pro", ContextWindow: 300000, SupportsTools: true, SupportsVision: true},
		{ID: "amazon.nova-lite-v1:0", Name: "Amazon Nova Lite", ContextWindow: 300000, SupportsTools: true, SupportsVision: true},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextWindow: 8192},
		{ID: "mistral.mistral-large-2402-v1:0", Name: "Mistral Large (Bedrock)", ContextWindow: 32768, SupportsTools: true},
		{ID: "cohere.command-r-plus-v1:0", Name: "Command R+ (Bedrock)", ContextWindow: 128000, SupportsTools: true},
	}
	for i := range catalog {
		catalog[i].Provider = "bedrock"
		catalog[i].SupportsStreaming = true
	}
	return catalog
}

// HealthCheck verifies credentials and connectivity via the control plane.
func (p *BedrockProvider) HealthCheck(ctx context.Context) error {
	if p.client == nil {
		return errors.New("bedrock: client not initialized")
	}
	if _, err := p.control.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{}); err != nil {
		return p.wrapError(err, "")
	}
	return nil
}

// Generate performs a blocking completion by draining the stream.
func (p *BedrockProvider) Generate(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return collectStream(chunks)
}

// Stream sends a ConverseStream request and returns a channel of chunks.
// Connection setup is retried; failures after setup arrive as Error chunks.
func (p *BedrockProvider) Stream(ctx context.Context, req *agent.Request) (<-chan *agent.Chunk, error) {
	if p.client == nil {
		return nil, NewProviderError("bedrock", req.Model, errors.New("client not initialized"))
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}

	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil {
		inference := &types.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			maxTokens := min(req.MaxTokens, math.MaxInt32)
			// #nosec G115 -- bounded by min above
			inference.MaxTokens = aws.Int32(int32(maxTokens))
		}
		if req.Temperature != nil {
			inference.Temperature = aws.Float32(float32(*req.Temperature))
		}
		if req.TopP != nil {
			inference.TopP = aws.Float32(float32(*req.TopP))
		}
		converseReq.InferenceConfig = inference
	}

	if len(req.Tools) > 0 {
		converseReq.ToolConfig = toolconv.ToBedrockTools(req.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	err = p.base.Retry(ctx, p.isRetryableError, func() error {
		var callErr error
		stream, callErr = p.client.ConverseStream(ctx, converseReq)
		if callErr != nil {
			return p.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		if p.isRetryableError(err) {
			return nil, fmt.Errorf("bedrock: max retries exceeded: %w", err)
		}
		return nil, err
	}

	chunks := make(chan *agent.Chunk)
	go p.processStream(ctx, stream, chunks, model)

	return chunks, nil
}

// processStream consumes Converse stream events. Token usage arrives in a
// metadata event after messageStop, so the loop runs until the event channel
// closes and reports usage on the final chunk.
func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- *agent.Chunk, model string) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInputBuilder strings.Builder
	var inputTokens, outputTokens int

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- &agent.Chunk{Error: ctx.Err(), Done: true}
			return
		case event, ok := <-eventChan:
			if !ok {
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Params = sanitizeParams(toolInputBuilder.String())
					chunks <- &agent.Chunk{ToolCall: currentToolCall}
				}
				if err := eventStream.Err(); err != nil {
					chunks <- &agent.Chunk{Error: p.wrapError(err, model), Done: true}
				} else {
					chunks <- &agent.Chunk{
						Done:         true,
						InputTokens:  inputTokens,
						OutputTokens: outputTokens,
					}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInputBuilder.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- &agent.Chunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInputBuilder.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil && currentToolCall.ID != "" {
					currentToolCall.Params = sanitizeParams(toolInputBuilder.String())
					chunks <- &agent.Chunk{ToolCall: currentToolCall}
					currentToolCall = nil
					toolInputBuilder.Reset()
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				// Usage metadata follows; keep reading until close.

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					inputTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					outputTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				}
			}
		}
	}
}

// convertMessages converts conversation messages to Converse format. The API
// requires strict user/assistant alternation, so consecutive tool
// observations collapse into a single user message of toolResult blocks.
func (p *BedrockProvider) convertMessages(messages []models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		if msg.Role == models.RoleSystem {
			continue
		}

		if msg.Role == models.RoleTool {
			var content []types.ContentBlock
			for i < len(messages) && messages[i].Role == models.RoleTool {
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(messages[i].ToolCallID),
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: messages[i].Content},
						},
					},
				})
				i++
			}
			i--

			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: content,
			})
			continue
		}

		var content []types.ContentBlock

		if msg.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal(tc.Params, &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}

		if len(content) > 0 {
			result = append(result, types.Message{
				Role:    role,
				Content: content,
			})
		}
	}

	return result, nil
}

// isRetryableError determines if an error should trigger a retry.
func (p *BedrockProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := err.Error()

	// AWS throttling errors
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "TooManyRequestsException") ||
		strings.Contains(errMsg, "ServiceUnavailableException") {
		return true
	}

	retryable := []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"}
	for _, s := range retryable {
		if strings.Contains(strings.ToLower(errMsg), s) {
			return true
		}
	}
	return false
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("bedrock", model, err)
}

// CountTokens estimates request size using ~4 characters per token.
func (p *BedrockProvider) CountTokens(req *agent.Request) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
		for _, tc := range msg.ToolCalls {
			total += (len(tc.Name) + len(tc.Params)) / 4
		}
	}
	for _, tool := range req.Tools {
		total += (len(tool.Name) + len(tool.Description) + len(tool.Schema)) / 4
	}
	return total
}
