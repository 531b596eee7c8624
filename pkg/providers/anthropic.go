package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// anthropicModelPricing is per-million-token input/output pricing (2025-01),
// grounded on the source's AnthropicAdapter.MODEL_PRICING table.
var anthropicModelPricing = map[string]openAIPricing{
	"claude-sonnet-4-5-20250929": {decimal.NewFromFloat(3.00), decimal.NewFromFloat(15.00)},
	"claude-3-5-sonnet-20241022": {decimal.NewFromFloat(3.00), decimal.NewFromFloat(15.00)},
	"claude-3-5-haiku-20241022":  {decimal.NewFromFloat(0.80), decimal.NewFromFloat(4.00)},
	"claude-3-opus-20240229":     {decimal.NewFromFloat(15.00), decimal.NewFromFloat(75.00)},
	"claude-3-sonnet-20240229":   {decimal.NewFromFloat(3.00), decimal.NewFromFloat(15.00)},
	"claude-3-haiku-20240307":    {decimal.NewFromFloat(0.25), decimal.NewFromFloat(1.25)},
}

// AnthropicAdapter offers LLM generation/structured output/streaming plus
// summarization and analysis capabilities, grounded on
// original_source's AnthropicAdapter. Wire calls go through the official
// github.com/anthropics/anthropic-sdk-go client, grounded on
// lonestarx1-gogrid/pkg/llm/anthropic/provider.go's use of that same SDK for
// the identical Messages-API concern.
type AnthropicAdapter struct {
	HTTPAdapter
	sdk       anthropic.Client
	modelName string
	baseURL   string
}

// NewAnthropicAdapter matches capabilities.AdapterFactory.
func NewAnthropicAdapter(apiKey, modelName string) (capabilities.Adapter, error) {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	httpAdapter := NewHTTPAdapter(120 * time.Second)
	baseURL := "https://api.anthropic.com/v1"
	return &AnthropicAdapter{
		HTTPAdapter: httpAdapter,
		sdk: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(httpAdapter.Client),
		),
		modelName: modelName,
		baseURL:   baseURL,
	}, nil
}

func (a *AnthropicAdapter) pricing() openAIPricing {
	if p, ok := anthropicModelPricing[a.modelName]; ok {
		return p
	}
	return openAIPricing{decimal.NewFromFloat(3.00), decimal.NewFromFloat(15.00)}
}

func (a *AnthropicAdapter) qualityTier() capabilities.QualityTier {
	switch {
	case strings.Contains(a.modelName, "opus"):
		return capabilities.Premium
	case strings.Contains(a.modelName, "sonnet"):
		return capabilities.Premium
	default:
		return capabilities.Standard
	}
}

// Registration mirrors the source's per-capability priority choices:
// summarization gets the lowest (best) priority of any Anthropic capability.
func (a *AnthropicAdapter) Registration() capabilities.ProviderRegistration {
	p := a.pricing()
	tier := a.qualityTier()
	meta := func(c capabilities.Capability, priority int, tierOverride *capabilities.QualityTier) capabilities.CapabilityMetadata {
		out := p.output
		t := tier
		if tierOverride != nil {
			t = *tierOverride
		}
		return capabilities.CapabilityMetadata{
			Capability:        c,
			ProviderName:      "anthropic",
			CostPerUnit:       p.input,
			OutputCostPerUnit: &out,
			CostUnit:          capabilities.PerMillionTokens,
			QualityTier:       t,
			Priority:          priority,
			ModelName:         a.modelName,
			SupportsStreaming: c == capabilities.LLMStreaming,
		}
	}
	premium := capabilities.Premium
	return capabilities.ProviderRegistration{
		ProviderName:   "anthropic",
		ProviderType:   capabilities.External,
		IsAvailable:    true,
		RequiresAPIKey: true,
		HealthCheckURL: a.baseURL + "/models",
		Capabilities: []capabilities.CapabilityMetadata{
			meta(capabilities.LLMGeneration, 40, nil),
			meta(capabilities.LLMStructured, 40, nil),
			meta(capabilities.LLMStreaming, 40, nil),
			meta(capabilities.Summarization, 5, &premium),
			meta(capabilities.SentimentAnalysis, 40, nil),
			meta(capabilities.CoachingAnalysis, 40, nil),
		},
	}
}

// Execute routes every Anthropic capability through the Messages API,
// matching the source's single _call_messages_api path. The capability tag
// changes neither the request nor the pricing; it is only recorded on the
// result.
func (a *AnthropicAdapter) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	switch capability {
	case capabilities.LLMGeneration, capabilities.LLMStructured, capabilities.LLMStreaming,
		capabilities.Summarization, capabilities.SentimentAnalysis, capabilities.CoachingAnalysis:
		return a.executeMessages(ctx, capability, input, options)
	default:
		return unsupportedCapabilityResult("anthropic", capability)
	}
}

func (a *AnthropicAdapter) executeMessages(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	return timedExecution(func() capabilities.OperationResult {
		data, ok := input.(map[string]any)
		if !ok {
			return errorResult("anthropic", capability, "input_data must be a map with a messages field", ErrCodeInvalidInput, false)
		}
		messages, _ := data["messages"].([]any)
		if len(messages) == 0 {
			return errorResult("anthropic", capability, "no messages provided", ErrCodeInvalidInput, false)
		}

		req, err := toAnthropicRequest(a.modelName, messages, optionIntOr(options, "max_tokens", 4096))
		if err != nil {
			return errorResult("anthropic", capability, err.Error(), ErrCodeInvalidInput, false)
		}

		text, usage, err := a.postMessages(ctx, req)
		if err != nil {
			return a.classifyError(capability, err)
		}

		p := a.pricing()
		cm := capabilities.CapabilityMetadata{CostPerUnit: p.input, OutputCostPerUnit: &p.output, CostUnit: capabilities.PerMillionTokens}
		cost := cm.EstimateCost(usage.inputTokens, usage.outputTokens, 0, 0, 0)
		return successResult("anthropic", capability, map[string]any{"content": text}, map[string]float64{
			capabilities.UsageInputTokens:  float64(usage.inputTokens),
			capabilities.UsageOutputTokens: float64(usage.outputTokens),
		}, cost)
	})
}

func optionIntOr(options map[string]any, key string, def int) int {
	if v, ok := options[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}

// toAnthropicRequest adapts the executor's generic []any message list (maps
// with "role"/"content" keys) into the SDK's typed MessageNewParams, the
// same role switch gogrid's toRequest performs over its own Message struct.
// A "system" entry is pulled out into the System field, matching the
// Messages API's split between system prompt and conversation turns.
func toAnthropicRequest(model string, messages []any, maxTokens int) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, raw := range messages {
		m, ok := raw.(map[string]any)
		if !ok {
			return anthropic.MessageNewParams{}, fmt.Errorf("message entry must be an object, got %T", raw)
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		switch role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: content})
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		case "user", "":
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("unsupported message role %q", role)
		}
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		req.System = system
	}
	return req, nil
}

func (a *AnthropicAdapter) postMessages(ctx context.Context, req anthropic.MessageNewParams) (string, llmUsage, error) {
	message, err := a.sdk.Messages.New(ctx, req)
	if err != nil {
		return "", llmUsage{}, err
	}
	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	return text, llmUsage{
		inputTokens:  int(message.Usage.InputTokens),
		outputTokens: int(message.Usage.OutputTokens),
	}, nil
}

func (a *AnthropicAdapter) classifyError(capability capabilities.Capability, err error) capabilities.OperationResult {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errorResult("anthropic", capability, err.Error(), ErrCodeRateLimited, true)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return errorResult("anthropic", capability, err.Error(), ErrCodeAuthFailed, false)
		case apiErr.StatusCode >= 500:
			return errorResult("anthropic", capability, err.Error(), ErrCodeServiceUnavailable, true)
		}
	}
	return errorResult("anthropic", capability, err.Error(), ErrCodeUnknown, true)
}

func (a *AnthropicAdapter) HealthCheck(ctx context.Context) bool {
	return defaultHealthCheck(ctx, a.Client, "")
}

var _ capabilities.Adapter = (*AnthropicAdapter)(nil)
