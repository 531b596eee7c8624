package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// openAILLMPricing is per-million-token input/output pricing (2025-01),
// grounded on the source's OPENAI_PRICING table.
type openAIPricing struct{ input, output decimal.Decimal }

var openAILLMPricing = map[string]openAIPricing{
	"gpt-4o":        {decimal.NewFromFloat(2.50), decimal.NewFromFloat(10.00)},
	"gpt-4o-mini":   {decimal.NewFromFloat(0.15), decimal.NewFromFloat(0.60)},
	"gpt-4-turbo":   {decimal.NewFromFloat(10.00), decimal.NewFromFloat(30.00)},
	"gpt-4":         {decimal.NewFromFloat(30.00), decimal.NewFromFloat(60.00)},
	"gpt-3.5-turbo": {decimal.NewFromFloat(0.50), decimal.NewFromFloat(1.50)},
}

var openAIWhisperPricePerMinute = decimal.NewFromFloat(0.006)

// OpenAIAdapter offers LLM generation/structured output/streaming and Whisper
// transcription, grounded on original_source's OpenAIAdapter +
// OpenAILLMProvider/OpenAITranscriptionProvider. Wire calls go through the
// official github.com/openai/openai-go client, grounded on
// lonestarx1-gogrid/pkg/llm/openai/provider.go's use of that same SDK for the
// identical chat-completion concern.
type OpenAIAdapter struct {
	HTTPAdapter
	sdk                openai.Client
	modelName          string
	transcriptionModel string
	baseURL            string
}

// NewOpenAIAdapter matches capabilities.AdapterFactory's signature so it can
// be registered directly: registry.RegisterProvider(reg, NewOpenAIAdapter).
func NewOpenAIAdapter(apiKey, modelName string) (capabilities.Adapter, error) {
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}
	httpAdapter := NewHTTPAdapter(120 * time.Second)
	baseURL := "https://api.openai.com/v1"
	return &OpenAIAdapter{
		HTTPAdapter: httpAdapter,
		sdk: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithHTTPClient(httpAdapter.Client),
		),
		modelName:          modelName,
		transcriptionModel: "whisper-1",
		baseURL:            baseURL,
	}, nil
}

func (a *OpenAIAdapter) pricing() openAIPricing {
	if p, ok := openAILLMPricing[a.modelName]; ok {
		return p
	}
	return openAILLMPricing["gpt-4o-mini"]
}

// Registration describes every capability this instance offers at its
// configured model.
func (a *OpenAIAdapter) Registration() capabilities.ProviderRegistration {
	p := a.pricing()
	llmMeta := func(c capabilities.Capability) capabilities.CapabilityMetadata {
		out := p.output
		return capabilities.CapabilityMetadata{
			Capability:        c,
			ProviderName:      "openai",
			CostPerUnit:       p.input,
			OutputCostPerUnit: &out,
			CostUnit:          capabilities.PerMillionTokens,
			QualityTier:       capabilities.Standard,
			Priority:          50,
			ModelName:         a.modelName,
			SupportsStreaming: c == capabilities.LLMStreaming,
		}
	}
	return capabilities.ProviderRegistration{
		ProviderName:   "openai",
		ProviderType:   capabilities.External,
		IsAvailable:    true,
		RequiresAPIKey: true,
		HealthCheckURL: a.baseURL + "/models",
		Capabilities: []capabilities.CapabilityMetadata{
			llmMeta(capabilities.LLMGeneration),
			llmMeta(capabilities.LLMStructured),
			llmMeta(capabilities.LLMStreaming),
			{
				Capability:         capabilities.Transcription,
				ProviderName:       "openai",
				CostPerUnit:        openAIWhisperPricePerMinute,
				CostUnit:           capabilities.PerMinute,
				QualityTier:        capabilities.Standard,
				Priority:           60,
				ModelName:          a.transcriptionModel,
				SupportedLanguages: []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh", "hi", "tr", "pl", "vi"},
			},
			{
				Capability:   capabilities.TranscriptionDualChannel,
				ProviderName: "openai",
				CostPerUnit:  openAIWhisperPricePerMinute.Mul(decimal.NewFromInt(2)),
				CostUnit:     capabilities.PerMinute,
				QualityTier:  capabilities.Standard,
				Priority:     60,
				ModelName:    a.transcriptionModel,
			},
		},
	}
}

// Execute routes to the per-capability handler, matching the source's
// dispatch table.
func (a *OpenAIAdapter) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	switch capability {
	case capabilities.LLMGeneration, capabilities.LLMStreaming:
		return a.executeLLMGeneration(ctx, capability, input, options)
	case capabilities.LLMStructured:
		return a.executeLLMStructured(ctx, input, options)
	case capabilities.Transcription, capabilities.TranscriptionDualChannel:
		return a.executeTranscription(ctx, capability, input, options)
	default:
		return unsupportedCapabilityResult("openai", capability)
	}
}

func (a *OpenAIAdapter) executeLLMGeneration(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	return timedExecution(func() capabilities.OperationResult {
		data, ok := input.(map[string]any)
		if !ok {
			return errorResult("openai", capability, "input_data must be a map with a messages field", ErrCodeInvalidInput, false)
		}
		messages, _ := data["messages"].([]any)
		if len(messages) == 0 {
			return errorResult("openai", capability, "no messages provided", ErrCodeInvalidInput, false)
		}
		msgs, err := toOpenAIMessages(messages)
		if err != nil {
			return errorResult("openai", capability, err.Error(), ErrCodeInvalidInput, false)
		}

		req := openai.ChatCompletionNewParams{
			Model:    shared.ChatModel(a.modelName),
			Messages: msgs,
		}
		if temp, ok := options["temperature"].(float64); ok {
			req.Temperature = openai.Float(temp)
		}
		if maxTokens := optionIntOr(options, "max_tokens", 0); maxTokens > 0 {
			req.MaxCompletionTokens = openai.Int(int64(maxTokens))
		}

		respText, usage, err := a.postChatCompletion(ctx, req)
		if err != nil {
			return a.classifyError(capability, err)
		}

		p := a.pricing()
		cm := capabilities.CapabilityMetadata{CostPerUnit: p.input, OutputCostPerUnit: &p.output, CostUnit: capabilities.PerMillionTokens}
		cost := cm.EstimateCost(usage.inputTokens, usage.outputTokens, 0, 0, 0)
		return successResult("openai", capability, map[string]any{"content": respText}, map[string]float64{
			capabilities.UsageInputTokens:  float64(usage.inputTokens),
			capabilities.UsageOutputTokens: float64(usage.outputTokens),
		}, cost)
	})
}

func (a *OpenAIAdapter) executeLLMStructured(ctx context.Context, input any, options map[string]any) capabilities.OperationResult {
	// Structured output uses the same chat-completions call as LLM_GENERATION,
	// with no response_format set; only the result's capability differs.
	result := a.executeLLMGeneration(ctx, capabilities.LLMStructured, input, options)
	return result
}

func (a *OpenAIAdapter) executeTranscription(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	return timedExecution(func() capabilities.OperationResult {
		data, ok := input.(map[string]any)
		if !ok {
			return errorResult("openai", capability, "input_data must contain audio bytes", ErrCodeInvalidInput, false)
		}
		audio, _ := data["audio"].([]byte)
		if len(audio) == 0 {
			return errorResult("openai", capability, "no audio provided", ErrCodeInvalidInput, false)
		}

		transcript, durationSeconds, err := a.postTranscription(ctx, audio)
		if err != nil {
			return a.classifyError(capability, err)
		}

		multiplier := 1
		if capability == capabilities.TranscriptionDualChannel {
			multiplier = 2
		}
		cost := openAIWhisperPricePerMinute.Mul(decimal.NewFromInt(int64(multiplier))).Mul(decimal.NewFromFloat(durationSeconds / 60))
		return successResult("openai", capability, map[string]any{"text": transcript}, map[string]float64{
			capabilities.UsageDurationSecs: durationSeconds,
		}, cost)
	})
}

type llmUsage struct{ inputTokens, outputTokens int }

// toOpenAIMessages adapts the executor's generic []any message list (maps
// with "role"/"content" keys) into the SDK's typed message union, the same
// role switch gogrid's toRequest performs over its own Message struct.
func toOpenAIMessages(messages []any) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, raw := range messages {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("message entry must be an object, got %T", raw)
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		switch role {
		case "system", "developer":
			out = append(out, openai.SystemMessage(content))
		case "assistant":
			out = append(out, openai.AssistantMessage(content))
		case "user", "":
			out = append(out, openai.UserMessage(content))
		default:
			return nil, fmt.Errorf("unsupported message role %q", role)
		}
	}
	return out, nil
}

// postChatCompletion and postTranscription own translating between the
// executor's generic input/output shapes and the SDK's typed request and
// response structs; vendor-specific retry logic still lives in
// pkg/pipelines.Executor's retry loop one layer up.
func (a *OpenAIAdapter) postChatCompletion(ctx context.Context, req openai.ChatCompletionNewParams) (string, llmUsage, error) {
	completion, err := a.sdk.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", llmUsage{}, err
	}
	if len(completion.Choices) == 0 {
		return "", llmUsage{}, fmt.Errorf("openai: response contains no choices")
	}
	content := completion.Choices[0].Message.Content
	return content, llmUsage{
		inputTokens:  int(completion.Usage.PromptTokens),
		outputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}

func (a *OpenAIAdapter) postTranscription(ctx context.Context, audio []byte) (string, float64, error) {
	transcription, err := a.sdk.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model:          openai.AudioModel(a.transcriptionModel),
		File:           bytes.NewReader(audio),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", 0, err
	}
	return transcription.Text, transcription.Duration, nil
}

// classifyError maps an SDK/transport failure onto the shared error-code
// taxonomy so the executor's retry policy can reason about it generically.
func (a *OpenAIAdapter) classifyError(capability capabilities.Capability, err error) capabilities.OperationResult {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return errorResult("openai", capability, err.Error(), ErrCodeRateLimited, true)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return errorResult("openai", capability, err.Error(), ErrCodeAuthFailed, false)
		case apiErr.StatusCode >= 500:
			return errorResult("openai", capability, err.Error(), ErrCodeServiceUnavailable, true)
		}
	}
	return errorResult("openai", capability, err.Error(), ErrCodeUnknown, true)
}

func (a *OpenAIAdapter) HealthCheck(ctx context.Context) bool {
	return defaultHealthCheck(ctx, a.Client, a.baseURL+"/models")
}

var _ capabilities.Adapter = (*OpenAIAdapter)(nil)
