// Package predefined supplies ready-to-use PipelineDefinitions for common AI
// workflows: transcription, transcription with PII redaction, full call
// analysis, dual-channel analysis, standalone PII detection, and plain text
// summarization. Grounded on original_source's predefined.py; every pipeline
// is built through the same fluent pkg/pipelines.Pipeline DSL a caller would
// use to build a custom one.
package predefined

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
	"github.com/codeready-toolchain/workflow-orchestrator/pkg/pipelines"
)

// DefaultPIIEntityTypes mirrors predefined.py's default_entities list.
var DefaultPIIEntityTypes = []string{"PERSON", "EMAIL_ADDRESS", "PHONE_NUMBER", "CREDIT_CARD", "US_SSN"}

var (
	defaultRetry   = pipelines.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1000, ExponentialBackoff: true, BackoffMultiplier: 2, MaxDelayMs: 30000}
	shortRetry     = pipelines.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 1000, ExponentialBackoff: true, BackoffMultiplier: 2, MaxDelayMs: 30000}
	internalRetry  = pipelines.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 500, ExponentialBackoff: true, BackoffMultiplier: 2, MaxDelayMs: 5000}
	defaultFallback = pipelines.FallbackConfig{Enabled: true, MaxFallbacks: 2, PreferSameQuality: true}
)

// TranscriptionOptions configures GetTranscriptionPipeline.
type TranscriptionOptions struct {
	WithDiarization    bool
	ProviderPreference []string
}

// DefaultTranscriptionOptions mirrors the Python factory's keyword defaults.
func DefaultTranscriptionOptions() TranscriptionOptions {
	return TranscriptionOptions{WithDiarization: true}
}

// GetTranscriptionPipeline builds the basic transcription pipeline: one step,
// Deepgram-then-OpenAI-Whisper fallback, optional speaker diarization.
func GetTranscriptionPipeline(opts TranscriptionOptions) (pipelines.PipelineDefinition, error) {
	providerPref := opts.ProviderPreference
	if len(providerPref) == 0 {
		providerPref = []string{"deepgram", "openai"}
	}
	capability := capabilities.Transcription
	description := "Basic audio transcription"
	if opts.WithDiarization {
		capability = capabilities.TranscriptionDiarization
		description = "Transcribe audio with optional speaker diarization"
	}

	def, err := pipelines.Pipeline("transcription").
		WithDescription(description).
		WithTags("transcription", "audio").
		WithTimeout(600).
		Step("transcribe", capability).
		WithDescription("Transcribe audio to text").
		PreferProviders(providerPref...).
		ToKey("transcript").
		WithFallback(defaultFallback).
		WithRetry(defaultRetry).
		WithTimeout(300).
		WithProgressWeight(1.0).
		Done().
		Build()
	return withDuration(def, err, 120)
}

// RedactionOptions configures GetTranscriptionWithRedactionPipeline.
type RedactionOptions struct {
	WithDiarization bool
	EntityTypes     []string
	RedactionMethod string // mask, replace, hash, remove
}

// DefaultRedactionOptions mirrors the Python factory's keyword defaults.
func DefaultRedactionOptions() RedactionOptions {
	return RedactionOptions{WithDiarization: true, RedactionMethod: "mask"}
}

// GetTranscriptionWithRedactionPipeline builds transcription followed by a
// PII-redaction step against the internal redaction provider (no fallback —
// it is an internal service, per predefined.py's no_fallback() call).
func GetTranscriptionWithRedactionPipeline(opts RedactionOptions) (pipelines.PipelineDefinition, error) {
	entityTypes := opts.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = DefaultPIIEntityTypes
	}
	redactionMethod := opts.RedactionMethod
	if redactionMethod == "" {
		redactionMethod = "mask"
	}
	transcribeCapability := capabilities.Transcription
	if opts.WithDiarization {
		transcribeCapability = capabilities.TranscriptionDiarization
	}

	def, err := pipelines.Pipeline("transcription_with_redaction").
		WithDescription("Transcribe audio and redact PII from the transcript").
		WithTags("transcription", "pii", "redaction", "compliance").
		WithTimeout(600).
		Step("transcribe", transcribeCapability).
		WithDescription("Transcribe audio to text with speaker identification").
		PreferProviders("deepgram", "openai").
		ToKey("transcript").
		WithFallback(defaultFallback).
		WithRetry(defaultRetry).
		WithTimeout(300).
		WithProgressWeight(3.0).
		Done().
		Step("redact_pii", capabilities.PIIRedaction).
		WithDescription("Detect and redact personally identifiable information").
		PreferProviders("accent_redaction").
		TransformInput(redactionInputTransform(entityTypes, redactionMethod)).
		ToKey("redacted_transcript").
		NoFallback().
		WithRetry(internalRetry).
		WithTimeout(60).
		WithProgressWeight(1.0).
		Done().
		WithProgressCheckpoints("transcribe", "redact_pii").
		Build()
	return withDuration(def, err, 180)
}

// CallAnalysisOptions configures GetCallAnalysisPipeline.
type CallAnalysisOptions struct {
	IncludeSummary   bool
	IncludeSentiment bool
	IncludeCoaching  bool
	SummaryMaxLength int
	LLMProviderPref  []string
}

// DefaultCallAnalysisOptions mirrors the Python factory's keyword defaults.
func DefaultCallAnalysisOptions() CallAnalysisOptions {
	return CallAnalysisOptions{IncludeSummary: true, IncludeSentiment: true, IncludeCoaching: true, SummaryMaxLength: 500}
}

// GetCallAnalysisPipeline builds the full call-center analysis pipeline:
// diarized transcription, PII redaction, then optional summarization,
// sentiment analysis, and coaching insights gated on sufficient content.
func GetCallAnalysisPipeline(opts CallAnalysisOptions) (pipelines.PipelineDefinition, error) {
	llmProviders := opts.LLMProviderPref
	if len(llmProviders) == 0 {
		llmProviders = []string{"anthropic", "openai"}
	}
	summaryMaxLength := opts.SummaryMaxLength
	if summaryMaxLength == 0 {
		summaryMaxLength = 500
	}

	b := pipelines.Pipeline("call_analysis").
		WithDescription("Complete call analysis: transcription, PII redaction, summarization, sentiment analysis, and coaching insights").
		WithTags("call-center", "analysis", "transcription", "insights").
		WithTimeout(900).
		WithCompensationTimeout(120).
		Step("transcribe", capabilities.TranscriptionDiarization).
		WithDescription("Transcribe audio with speaker diarization").
		PreferProviders("deepgram", "openai").
		ToKey("transcript").
		WithFallback(defaultFallback).
		WithRetry(defaultRetry).
		WithTimeout(300).
		WithProgressWeight(3.0).
		Done().
		Step("redact_pii", capabilities.PIIRedaction).
		WithDescription("Redact personally identifiable information").
		PreferProviders("accent_redaction").
		TransformInput(redactionInputTransform(DefaultPIIEntityTypes, "mask")).
		ToKey("redacted_transcript").
		NoFallback().
		WithRetry(internalRetry).
		WithTimeout(60).
		WithProgressWeight(1.0).
		Done().
		WithProgressCheckpoints("transcribe", "redact_pii")

	if opts.IncludeSummary {
		b = b.Step("summarize", capabilities.Summarization).
			WithDescription("Generate call summary").
			PreferProviders(llmProviders...).
			TransformInput(func(data map[string]any) (any, error) {
				return map[string]any{
					"text":       getFullText(data["redacted_transcript"]),
					"max_length": summaryMaxLength,
					"format":     "bullet_points",
				}, nil
			}).
			ToKey("summary").
			WhenFunc(func(data map[string]any) bool { return hasSufficientContent(data["redacted_transcript"], 100) }).
			WithFallback(defaultFallback).
			WithRetry(shortRetry).
			WithTimeout(120).
			WithProgressWeight(2.0).
			Done()
	}

	if opts.IncludeSentiment {
		b = b.Step("sentiment", capabilities.SentimentAnalysis).
			WithDescription("Analyze sentiment per speaker").
			PreferProviders(llmProviders...).
			TransformInput(func(data map[string]any) (any, error) {
				return map[string]any{
					"segments":            segmentsOf(data["redacted_transcript"]),
					"analyze_per_speaker": true,
				}, nil
			}).
			ToKey("sentiment_analysis").
			WhenFunc(func(data map[string]any) bool { return hasSufficientContent(data["redacted_transcript"], 50) }).
			WithFallback(defaultFallback).
			WithRetry(shortRetry).
			WithTimeout(90).
			WithProgressWeight(1.5).
			Done()
	}

	if opts.IncludeCoaching {
		b = b.Step("coaching", capabilities.CoachingAnalysis).
			WithDescription("Generate coaching insights for agent improvement").
			PreferProviders(llmProviders...).
			TransformInput(func(data map[string]any) (any, error) {
				return map[string]any{
					"transcript": data["redacted_transcript"],
					"summary":    data["summary"],
					"sentiment":  data["sentiment_analysis"],
				}, nil
			}).
			ToKey("coaching_insights").
			WhenFunc(func(data map[string]any) bool { return hasSufficientContent(data["redacted_transcript"], 100) }).
			WithFallback(defaultFallback).
			WithRetry(shortRetry).
			WithTimeout(120).
			WithProgressWeight(2.0).
			Done()
	}

	def, err := b.Build()
	def, err = withDuration(def, err, 300)
	if err != nil {
		return def, err
	}
	cost := decimal.NewFromFloat(0.15)
	def.EstimatedCostUsd = &cost
	return def, nil
}

// DualChannelOptions configures GetDualChannelAnalysisPipeline.
type DualChannelOptions struct {
	IncludeSummary   bool
	IncludeSentiment bool
}

// DefaultDualChannelOptions mirrors the Python factory's keyword defaults.
func DefaultDualChannelOptions() DualChannelOptions {
	return DualChannelOptions{IncludeSummary: true, IncludeSentiment: true}
}

// GetDualChannelAnalysisPipeline builds the stereo-recording variant of call
// analysis: dual-channel transcription (agent/customer on separate
// channels), PII redaction, then optional narrative summary and per-channel
// sentiment.
func GetDualChannelAnalysisPipeline(opts DualChannelOptions) (pipelines.PipelineDefinition, error) {
	b := pipelines.Pipeline("dual_channel_analysis").
		WithDescription("Analyze dual-channel call recordings with separate agent/customer channels").
		WithTags("call-center", "dual-channel", "stereo").
		WithTimeout(900).
		Step("transcribe", capabilities.TranscriptionDualChannel).
		WithDescription("Transcribe dual-channel audio").
		PreferProviders("deepgram", "openai").
		ToKey("transcript").
		WithFallback(defaultFallback).
		WithRetry(defaultRetry).
		WithTimeout(300).
		WithProgressWeight(3.0).
		Done().
		Step("redact_pii", capabilities.PIIRedaction).
		WithDescription("Redact PII from transcript").
		PreferProviders("accent_redaction").
		TransformInput(redactionInputTransform(DefaultPIIEntityTypes, "mask")).
		ToKey("redacted_transcript").
		NoFallback().
		WithTimeout(60).
		WithProgressWeight(1.0).
		Done().
		WithProgressCheckpoints("transcribe", "redact_pii")

	if opts.IncludeSummary {
		b = b.Step("summarize", capabilities.Summarization).
			PreferProviders("anthropic", "openai").
			TransformInput(func(data map[string]any) (any, error) {
				return map[string]any{"text": getFullText(data["redacted_transcript"]), "format": "narrative"}, nil
			}).
			ToKey("summary").
			WithFallback(defaultFallback).
			WithTimeout(120).
			WithProgressWeight(2.0).
			Done()
	}

	if opts.IncludeSentiment {
		b = b.Step("sentiment", capabilities.SentimentAnalysis).
			PreferProviders("anthropic", "openai").
			TransformInput(func(data map[string]any) (any, error) {
				return map[string]any{"text": getFullText(data["redacted_transcript"]), "analyze_per_channel": true}, nil
			}).
			ToKey("sentiment_analysis").
			WithFallback(defaultFallback).
			WithTimeout(90).
			WithProgressWeight(1.5).
			Done()
	}

	def, err := b.Build()
	return withDuration(def, err, 300)
}

// GetPIIDetectionPipeline builds a single-step pipeline that reports PII
// entities in text without redacting them.
func GetPIIDetectionPipeline() (pipelines.PipelineDefinition, error) {
	def, err := pipelines.Pipeline("pii_detection").
		WithDescription("Detect personally identifiable information in text").
		WithTags("pii", "detection", "compliance").
		WithTimeout(60).
		Step("detect_pii", capabilities.PIIDetection).
		WithDescription("Detect PII entities in text").
		PreferProviders("accent_redaction").
		ToKey("pii_entities").
		NoFallback().
		WithTimeout(30).
		Done().
		Build()
	return withDuration(def, err, 5)
}

// TextSummarizationOptions configures GetTextSummarizationPipeline.
type TextSummarizationOptions struct {
	MaxLength int
	Format    string // paragraph, bullet_points, key_points
}

// DefaultTextSummarizationOptions mirrors the Python factory's keyword defaults.
func DefaultTextSummarizationOptions() TextSummarizationOptions {
	return TextSummarizationOptions{MaxLength: 500, Format: "paragraph"}
}

// GetTextSummarizationPipeline builds a single-step plain-text summarization
// pipeline, independent of the call-analysis workflow.
func GetTextSummarizationPipeline(opts TextSummarizationOptions) (pipelines.PipelineDefinition, error) {
	maxLength := opts.MaxLength
	if maxLength == 0 {
		maxLength = 500
	}
	format := opts.Format
	if format == "" {
		format = "paragraph"
	}

	def, err := pipelines.Pipeline("text_summarization").
		WithDescription("Summarize text content").
		WithTags("summarization", "text", "llm").
		WithTimeout(120).
		Step("summarize", capabilities.Summarization).
		WithDescription("Generate summary from text").
		PreferProviders("anthropic", "openai").
		TransformInput(func(data map[string]any) (any, error) {
			return map[string]any{"text": data["text"], "max_length": maxLength, "format": format}, nil
		}).
		ToKey("summary").
		WithFallback(defaultFallback).
		WithRetry(shortRetry).
		WithTimeout(90).
		Done().
		Build()
	return withDuration(def, err, 30)
}

func withDuration(def pipelines.PipelineDefinition, err error, seconds int) (pipelines.PipelineDefinition, error) {
	if err != nil {
		return def, err
	}
	s := seconds
	def.EstimatedDurationSeconds = &s
	return def, nil
}

func redactionInputTransform(entityTypes []string, redactionMethod string) func(data map[string]any) (any, error) {
	return func(data map[string]any) (any, error) {
		return map[string]any{
			"segments":         segmentsOf(data["transcript"]),
			"entity_types":     entityTypes,
			"redaction_method": redactionMethod,
		}, nil
	}
}

// segmentsOf extracts a "segments" slice from a transcript value, whether it
// arrives as a map[string]any (the common case, adapters return JSON-shaped
// data) or is absent entirely.
func segmentsOf(transcript any) []any {
	m, ok := transcript.(map[string]any)
	if !ok {
		return nil
	}
	segs, _ := m["segments"].([]any)
	return segs
}

// getFullText extracts concatenated text from a transcript value. Grounded
// on predefined.py's _get_full_text, simplified to the map[string]any shape
// every adapter in this port returns (no attribute-probing needed).
func getFullText(transcript any) string {
	m, ok := transcript.(map[string]any)
	if !ok {
		if s, ok := transcript.(string); ok {
			return s
		}
		return ""
	}
	if text, ok := m["text"].(string); ok && text != "" {
		return text
	}
	if fullText, ok := m["full_text"].(string); ok && fullText != "" {
		return fullText
	}
	segs, ok := m["segments"].([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if sm, ok := s.(map[string]any); ok {
			if t, ok := sm["text"].(string); ok {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// hasSufficientContent reports whether transcript contains at least minWords
// words of extractable text.
func hasSufficientContent(transcript any, minWords int) bool {
	text := getFullText(transcript)
	return len(strings.Fields(text)) >= minWords
}

// PipelineInfo is the introspection summary ListPipelines returns for one
// predefined pipeline, mirroring predefined.py's list_pipelines dicts.
type PipelineInfo struct {
	Name                     string
	Version                  string
	Description              string
	Tags                     []string
	StepCount                int
	EstimatedDurationSeconds *int
	EstimatedCostUsd         *string
	RequiredCapabilities     []capabilities.Capability
}

// factories maps every predefined pipeline name to a zero-argument
// constructor using that pipeline's default options, for GetPipeline and
// ListPipelines.
var factories = map[string]func() (pipelines.PipelineDefinition, error){
	"transcription": func() (pipelines.PipelineDefinition, error) {
		return GetTranscriptionPipeline(DefaultTranscriptionOptions())
	},
	"transcription_with_diarization": func() (pipelines.PipelineDefinition, error) {
		return GetTranscriptionPipeline(TranscriptionOptions{WithDiarization: true})
	},
	"transcription_with_redaction": func() (pipelines.PipelineDefinition, error) {
		return GetTranscriptionWithRedactionPipeline(DefaultRedactionOptions())
	},
	"call_analysis": func() (pipelines.PipelineDefinition, error) {
		return GetCallAnalysisPipeline(DefaultCallAnalysisOptions())
	},
	"dual_channel_analysis": func() (pipelines.PipelineDefinition, error) {
		return GetDualChannelAnalysisPipeline(DefaultDualChannelOptions())
	},
	"pii_detection": func() (pipelines.PipelineDefinition, error) { return GetPIIDetectionPipeline() },
	"text_summarization": func() (pipelines.PipelineDefinition, error) {
		return GetTextSummarizationPipeline(DefaultTextSummarizationOptions())
	},
}

// GetPipeline returns the named predefined pipeline built with its default
// options. Use the Get*Pipeline constructors directly for customization.
func GetPipeline(name string) (pipelines.PipelineDefinition, error) {
	factory, ok := factories[name]
	if !ok {
		names := make([]string, 0, len(factories))
		for n := range factories {
			names = append(names, n)
		}
		return pipelines.PipelineDefinition{}, fmt.Errorf("unknown pipeline %q, available: %s", name, strings.Join(names, ", "))
	}
	return factory()
}

// ListPipelines summarizes every predefined pipeline for discovery UIs/APIs.
func ListPipelines() ([]PipelineInfo, error) {
	out := make([]PipelineInfo, 0, len(factories))
	for _, factory := range factories {
		def, err := factory()
		if err != nil {
			return nil, fmt.Errorf("building pipeline: %w", err)
		}
		info := PipelineInfo{
			Name:                     def.Name,
			Version:                  def.Version,
			Description:              def.Description,
			Tags:                     def.Tags,
			StepCount:                len(def.Steps),
			EstimatedDurationSeconds: def.EstimatedDurationSeconds,
		}
		if def.EstimatedCostUsd != nil {
			s := def.EstimatedCostUsd.String()
			info.EstimatedCostUsd = &s
		}
		for _, s := range def.Steps {
			info.RequiredCapabilities = append(info.RequiredCapabilities, s.Capability)
		}
		out = append(out, info)
	}
	return out, nil
}
