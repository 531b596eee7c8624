// Package capabilities defines the closed set of AI operations the orchestrator
// can route, the cost model for a provider's offering of one, and the registry
// that maps capabilities to concrete providers.
package capabilities

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Capability is an abstract AI function a provider may offer.
type Capability string

const (
	Transcription              Capability = "transcription"
	TranscriptionDiarization   Capability = "transcription_diarization"
	TranscriptionDualChannel   Capability = "transcription_dual_channel"
	TranscriptionRealtime      Capability = "transcription_realtime"
	LLMGeneration              Capability = "llm_generation"
	LLMStructured              Capability = "llm_structured"
	LLMStreaming               Capability = "llm_streaming"
	LLMVision                  Capability = "llm_vision"
	LLMFunctionCalling         Capability = "llm_function_calling"
	Summarization              Capability = "summarization"
	SentimentAnalysis          Capability = "sentiment_analysis"
	CoachingAnalysis           Capability = "coaching_analysis"
	PIIDetection               Capability = "pii_detection"
	PIIRedaction               Capability = "pii_redaction"
	Embedding                  Capability = "embedding"
	EmbeddingMultimodal        Capability = "embedding_multimodal"
)

// IsValid reports whether c is one of the closed set of known capabilities.
func (c Capability) IsValid() bool {
	switch c {
	case Transcription, TranscriptionDiarization, TranscriptionDualChannel,
		TranscriptionRealtime, LLMGeneration, LLMStructured, LLMStreaming,
		LLMVision, LLMFunctionCalling, Summarization, SentimentAnalysis,
		CoachingAnalysis, PIIDetection, PIIRedaction, Embedding, EmbeddingMultimodal:
		return true
	default:
		return false
	}
}

// CostUnit governs which fields of a usage map feed CapabilityMetadata.EstimateCost.
type CostUnit string

const (
	PerThousandTokens CostUnit = "per_1k_tokens"
	PerMillionTokens  CostUnit = "per_1m_tokens"
	PerMinute         CostUnit = "per_minute"
	PerSecond         CostUnit = "per_second"
	PerCharacter      CostUnit = "per_character"
	PerRequest        CostUnit = "per_request"
	Free              CostUnit = "free"
)

// IsValid reports whether u is a known cost unit.
func (u CostUnit) IsValid() bool {
	switch u {
	case PerThousandTokens, PerMillionTokens, PerMinute, PerSecond, PerCharacter, PerRequest, Free:
		return true
	default:
		return false
	}
}

// QualityTier classifies a provider's offering for quality-aware routing.
type QualityTier string

const (
	Economy  QualityTier = "economy"
	Standard QualityTier = "standard"
	Premium  QualityTier = "premium"
)

// IsValid reports whether t is a known quality tier.
func (t QualityTier) IsValid() bool {
	return t == Economy || t == Standard || t == Premium
}

// ProviderType distinguishes external SaaS providers from internal microservices.
type ProviderType string

const (
	External ProviderType = "external"
	Internal ProviderType = "internal"
	Hybrid   ProviderType = "hybrid"
)

// IsValid reports whether t is a known provider type.
func (t ProviderType) IsValid() bool {
	return t == External || t == Internal || t == Hybrid
}

// Usage keys expected in OperationResult.Usage, keyed by CostUnit.
const (
	UsageInputTokens    = "input_tokens"
	UsageOutputTokens   = "output_tokens"
	UsageDurationSecs   = "duration_seconds"
	UsageCharacterCount = "character_count"
	UsageRequestCount   = "request_count"
)

// CapabilityMetadata describes one provider's offering of one capability.
type CapabilityMetadata struct {
	Capability         Capability
	ProviderName       string
	CostPerUnit        decimal.Decimal
	OutputCostPerUnit  *decimal.Decimal // only meaningful for token-based cost units
	CostUnit           CostUnit
	QualityTier        QualityTier
	Priority           int // lower is preferred
	SupportedLanguages []string
	MaxInputSize       *int
	SupportsStreaming  bool
	ModelName          string
	AvgLatencyMs       *int
	RateLimitRPM       *int
}

// EstimateCost computes the dollar cost of one operation from reported usage.
// Unknown/zero usage for the relevant field yields zero cost rather than a guess,
// per the adapter contract in spec.md §4.2 ("never guess when usage is missing").
func (m CapabilityMetadata) EstimateCost(inputTokens, outputTokens int, durationSeconds float64, characters, requests int) decimal.Decimal {
	switch m.CostUnit {
	case PerThousandTokens:
		in := m.CostPerUnit.Mul(decimal.NewFromInt(int64(inputTokens))).Div(decimal.NewFromInt(1000))
		outRate := m.CostPerUnit
		if m.OutputCostPerUnit != nil {
			outRate = *m.OutputCostPerUnit
		}
		out := outRate.Mul(decimal.NewFromInt(int64(outputTokens))).Div(decimal.NewFromInt(1000))
		return in.Add(out)
	case PerMillionTokens:
		in := m.CostPerUnit.Mul(decimal.NewFromInt(int64(inputTokens))).Div(decimal.NewFromInt(1_000_000))
		outRate := m.CostPerUnit
		if m.OutputCostPerUnit != nil {
			outRate = *m.OutputCostPerUnit
		}
		out := outRate.Mul(decimal.NewFromInt(int64(outputTokens))).Div(decimal.NewFromInt(1_000_000))
		return in.Add(out)
	case PerMinute:
		minutes := decimal.NewFromFloat(durationSeconds).Div(decimal.NewFromInt(60))
		return m.CostPerUnit.Mul(minutes)
	case PerSecond:
		return m.CostPerUnit.Mul(decimal.NewFromFloat(durationSeconds))
	case PerCharacter:
		return m.CostPerUnit.Mul(decimal.NewFromInt(int64(characters)))
	case PerRequest:
		return m.CostPerUnit.Mul(decimal.NewFromInt(int64(requests)))
	case Free:
		return decimal.Zero
	default:
		return decimal.Zero
	}
}

// ProviderRegistration is the full description of a registered provider: its
// identity, transport kind, and every capability/quality/cost combination it
// offers. isAvailable is the only field mutated after registration.
type ProviderRegistration struct {
	ProviderName    string
	ProviderType    ProviderType
	Capabilities    []CapabilityMetadata
	IsAvailable     bool
	RequiresAPIKey  bool
	HealthCheckURL  string
}

// GetCapability returns the metadata this registration declares for c, if any.
func (r ProviderRegistration) GetCapability(c Capability) (CapabilityMetadata, bool) {
	for _, cm := range r.Capabilities {
		if cm.Capability == c {
			return cm, true
		}
	}
	return CapabilityMetadata{}, false
}

// Supports reports whether this registration offers c.
func (r ProviderRegistration) Supports(c Capability) bool {
	_, ok := r.GetCapability(c)
	return ok
}

// GetCapabilities returns the set of capability tags this registration offers.
func (r ProviderRegistration) GetCapabilities() []Capability {
	out := make([]Capability, len(r.Capabilities))
	for i, cm := range r.Capabilities {
		out[i] = cm.Capability
	}
	return out
}

// OperationResult is the universal envelope every adapter returns. Adapters
// never panic/error out of Execute for operation failures — a failed operation
// is Success: false with Error/ErrorCode/Retryable populated.
type OperationResult struct {
	Success      bool
	Data         any
	ProviderName string
	Capability   Capability
	Usage        map[string]float64
	CostUsd      decimal.Decimal
	LatencyMs    int64
	Error        string
	ErrorCode    string
	Retryable    bool
	RequestID    string
	Timestamp    int64 // unix millis
	JobID        string
	TenantID     *string
}

// InputTokens returns Usage[UsageInputTokens] as an int, or 0.
func (r OperationResult) InputTokens() int { return int(r.Usage[UsageInputTokens]) }

// OutputTokens returns Usage[UsageOutputTokens] as an int, or 0.
func (r OperationResult) OutputTokens() int { return int(r.Usage[UsageOutputTokens]) }

// DurationSeconds returns Usage[UsageDurationSecs], or 0.
func (r OperationResult) DurationSeconds() float64 { return r.Usage[UsageDurationSecs] }

// String implements fmt.Stringer for log-friendly summaries.
func (r OperationResult) String() string {
	if r.Success {
		return fmt.Sprintf("OperationResult{provider=%s capability=%s success cost=%s latency=%dms}",
			r.ProviderName, r.Capability, r.CostUsd, r.LatencyMs)
	}
	return fmt.Sprintf("OperationResult{provider=%s capability=%s failed code=%s retryable=%t error=%q}",
		r.ProviderName, r.Capability, r.ErrorCode, r.Retryable, r.Error)
}
