package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// deepgramModelPricing is per-minute pricing by model, grounded on the
// source's DeepgramAdapter.MODEL_PRICING.
var deepgramModelPricing = map[string]decimal.Decimal{
	"nova-2":   decimal.NewFromFloat(0.0043),
	"nova":     decimal.NewFromFloat(0.0041),
	"enhanced": decimal.NewFromFloat(0.0055),
	"base":     decimal.NewFromFloat(0.0025),
}

// DeepgramAdapter offers transcription, diarization, and dual-channel
// transcription, grounded on original_source's DeepgramAdapter.
type DeepgramAdapter struct {
	HTTPAdapter
	apiKey    string
	modelName string
	baseURL   string
}

// NewDeepgramAdapter matches capabilities.AdapterFactory.
func NewDeepgramAdapter(apiKey, modelName string) (capabilities.Adapter, error) {
	if modelName == "" {
		modelName = "nova-2"
	}
	return &DeepgramAdapter{
		HTTPAdapter: NewHTTPAdapter(120 * time.Second),
		apiKey:      apiKey,
		modelName:   modelName,
		baseURL:     "https://api.deepgram.com/v1",
	}, nil
}

func (a *DeepgramAdapter) pricePerMinute() decimal.Decimal {
	if p, ok := deepgramModelPricing[a.modelName]; ok {
		return p
	}
	return deepgramModelPricing["nova-2"]
}

// Registration mirrors the source's priority choices: diarization and
// dual-channel are Deepgram's specialty and get priority 5, plain
// transcription gets 10 (still ahead of OpenAI's Whisper fallback at 60).
func (a *DeepgramAdapter) Registration() capabilities.ProviderRegistration {
	price := a.pricePerMinute()
	languages := []string{"en", "en-US", "en-GB", "es", "fr", "de", "it", "pt", "nl", "ja", "ko", "zh", "hi", "ru"}
	return capabilities.ProviderRegistration{
		ProviderName:   "deepgram",
		ProviderType:   capabilities.External,
		IsAvailable:    true,
		RequiresAPIKey: true,
		HealthCheckURL: a.baseURL + "/projects",
		Capabilities: []capabilities.CapabilityMetadata{
			{
				Capability: capabilities.Transcription, ProviderName: "deepgram",
				CostPerUnit: price, CostUnit: capabilities.PerMinute, QualityTier: capabilities.Premium,
				Priority: 10, SupportedLanguages: languages, ModelName: a.modelName,
			},
			{
				Capability: capabilities.TranscriptionDiarization, ProviderName: "deepgram",
				CostPerUnit: price, CostUnit: capabilities.PerMinute, QualityTier: capabilities.Premium,
				Priority: 5, SupportedLanguages: languages, ModelName: a.modelName,
			},
			{
				Capability: capabilities.TranscriptionDualChannel, ProviderName: "deepgram",
				CostPerUnit: price.Mul(decimal.NewFromInt(2)), CostUnit: capabilities.PerMinute, QualityTier: capabilities.Premium,
				Priority: 5, ModelName: a.modelName,
			},
		},
	}
}

func (a *DeepgramAdapter) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	switch capability {
	case capabilities.Transcription, capabilities.TranscriptionDiarization, capabilities.TranscriptionDualChannel:
		return a.executeTranscription(ctx, capability, input, options)
	default:
		return unsupportedCapabilityResult("deepgram", capability)
	}
}

func (a *DeepgramAdapter) executeTranscription(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) capabilities.OperationResult {
	return timedExecution(func() capabilities.OperationResult {
		data, ok := input.(map[string]any)
		if !ok {
			return errorResult("deepgram", capability, "input_data must contain audio bytes", ErrCodeInvalidInput, false)
		}
		audio, _ := data["audio"].([]byte)
		if len(audio) == 0 {
			return errorResult("deepgram", capability, "no audio provided", ErrCodeInvalidInput, false)
		}
		language, _ := data["language"].(string)

		query := "?model=" + a.modelName
		if language != "" {
			query += "&language=" + language
		}
		if capability == capabilities.TranscriptionDiarization {
			query += "&diarize=true"
		}

		transcript, durationSeconds, err := a.postListen(ctx, audio, query)
		if err != nil {
			return a.classifyError(capability, err)
		}

		multiplier := 1
		if capability == capabilities.TranscriptionDualChannel {
			multiplier = 2
		}
		cost := a.pricePerMinute().Mul(decimal.NewFromInt(int64(multiplier))).Mul(decimal.NewFromFloat(durationSeconds / 60))
		return successResult("deepgram", capability, map[string]any{"text": transcript}, map[string]float64{
			capabilities.UsageDurationSecs: durationSeconds,
		}, cost)
	})
}

func (a *DeepgramAdapter) postListen(ctx context.Context, audio []byte, query string) (string, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/listen"+query, bytes.NewReader(audio))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Token %s", a.apiKey))
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := a.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, httpStatusError(resp.StatusCode)
	}

	var decoded struct {
		Metadata struct {
			Duration float64 `json:"duration"`
		} `json:"metadata"`
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string `json:"transcript"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", 0, err
	}
	text := ""
	if len(decoded.Results.Channels) > 0 && len(decoded.Results.Channels[0].Alternatives) > 0 {
		text = decoded.Results.Channels[0].Alternatives[0].Transcript
	}
	return text, decoded.Metadata.Duration, nil
}

func (a *DeepgramAdapter) classifyError(capability capabilities.Capability, err error) capabilities.OperationResult {
	if se, ok := err.(httpStatusErrorType); ok {
		switch {
		case se.code == http.StatusTooManyRequests:
			return errorResult("deepgram", capability, err.Error(), ErrCodeRateLimited, true)
		case se.code == http.StatusUnauthorized || se.code == http.StatusForbidden:
			return errorResult("deepgram", capability, err.Error(), ErrCodeAuthFailed, false)
		case se.code >= 500:
			return errorResult("deepgram", capability, err.Error(), ErrCodeServiceUnavailable, true)
		}
	}
	return errorResult("deepgram", capability, err.Error(), ErrCodeUnknown, true)
}

func (a *DeepgramAdapter) HealthCheck(ctx context.Context) bool {
	return defaultHealthCheck(ctx, a.Client, "")
}

var _ capabilities.Adapter = (*DeepgramAdapter)(nil)
