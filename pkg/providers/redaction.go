package providers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// redactionProviderName is the provider name predefined.py's pipelines
// (ported to pkg/pipelines/predefined) prefer for PII capabilities — an
// internal service, never an external vendor.
const redactionProviderName = "accent_redaction"

// redactionPattern pairs a compiled regex with the replacement text to
// substitute for a match, grounded on pkg/masking/pattern.go's
// CompiledPattern.
type redactionPattern struct {
	entityType  string
	regex       *regexp.Regexp
	replacement string
}

// builtinRedactionPatterns mirrors the entity types predefined.py's
// default_entities lists. PERSON has no reliable regex and is matched by a
// conservative heuristic (capitalizedNamePattern) instead, applied as a
// separate phase before the regex sweep — the Go analogue of
// pkg/masking/service.go's "code-based maskers, then regex patterns" split.
var builtinRedactionPatterns = []redactionPattern{
	{entityType: "EMAIL_ADDRESS", regex: regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), replacement: "[EMAIL_ADDRESS]"},
	{entityType: "PHONE_NUMBER", regex: regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), replacement: "[PHONE_NUMBER]"},
	{entityType: "CREDIT_CARD", regex: regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), replacement: "[CREDIT_CARD]"},
	{entityType: "US_SSN", regex: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), replacement: "[US_SSN]"},
}

// capitalizedNamePattern heuristically flags PERSON spans: two or three
// consecutive capitalized words. This over- and under-matches relative to a
// real NER model; it exists so PERSON redaction has some behavior rather
// than none, not as a claim of accuracy.
var capitalizedNamePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+){1,2}\b`)

// RedactionAdapter implements capabilities.PIIDetection and
// capabilities.PIIRedaction as an internal, no-credentials-required
// provider. Grounded on pkg/masking/service.go's two-phase
// (code-masker-then-regex) masking engine, repurposed from "mask MCP tool
// output" to "mask transcript PII spans," and on
// original_source/.../instrumented_orchestrator.py pipelines' expectation of
// an "accent_redaction" provider offering both capabilities.
type RedactionAdapter struct {
	patterns        []redactionPattern
	entityEnabled   map[string]bool
}

// NewRedactionAdapter matches capabilities.AdapterFactory's signature.
// apiKey and modelName are accepted but unused — this is an internal
// service with no vendor credentials or model selection.
func NewRedactionAdapter(_ string, _ string) (capabilities.Adapter, error) {
	enabled := make(map[string]bool, len(builtinRedactionPatterns)+1)
	enabled["PERSON"] = true
	for _, p := range builtinRedactionPatterns {
		enabled[p.entityType] = true
	}
	return &RedactionAdapter{patterns: builtinRedactionPatterns, entityEnabled: enabled}, nil
}

// Registration declares both PII capabilities as free, internal, highest
// priority (0) so a step's ProviderPreference naming "accent_redaction"
// never needs a paid fallback just to reach it.
func (a *RedactionAdapter) Registration() capabilities.ProviderRegistration {
	meta := func(c capabilities.Capability) capabilities.CapabilityMetadata {
		return capabilities.CapabilityMetadata{
			Capability:   c,
			ProviderName: redactionProviderName,
			CostUnit:     capabilities.Free,
			QualityTier:  capabilities.Standard,
			Priority:     0,
		}
	}
	return capabilities.ProviderRegistration{
		ProviderName:   redactionProviderName,
		ProviderType:   capabilities.Internal,
		IsAvailable:    true,
		RequiresAPIKey: false,
		Capabilities: []capabilities.CapabilityMetadata{
			meta(capabilities.PIIRedaction),
			meta(capabilities.PIIDetection),
		},
	}
}

// Execute dispatches to detection or redaction. Both paths recover from a
// panic in the masking phases and fail closed — a redaction failure must
// never silently pass PII through, so a panic surfaces as a retryable
// SERVICE_UNAVAILABLE rather than propagating raw input as output.
func (a *RedactionAdapter) Execute(ctx context.Context, capability capabilities.Capability, input any, options map[string]any) (result capabilities.OperationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = errorResult(redactionProviderName, capability, fmt.Sprintf("redaction panicked: %v", r), ErrCodeServiceUnavailable, true)
		}
	}()

	switch capability {
	case capabilities.PIIDetection:
		return a.executeDetect(capability, input)
	case capabilities.PIIRedaction:
		return a.executeRedact(capability, input)
	default:
		return unsupportedCapabilityResult(redactionProviderName, capability)
	}
}

// detectedEntity is one PII span found in text.
type detectedEntity struct {
	EntityType string `json:"entity_type"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

func (a *RedactionAdapter) executeDetect(capability capabilities.Capability, input any) capabilities.OperationResult {
	return timedExecution(func() capabilities.OperationResult {
		text, entityTypes, err := detectionInput(input)
		if err != nil {
			return errorResult(redactionProviderName, capability, err.Error(), ErrCodeInvalidInput, false)
		}

		entities := a.findEntities(text, entityTypes)
		return successResult(redactionProviderName, capability, map[string]any{"entities": entities}, map[string]float64{
			capabilities.UsageCharacterCount: float64(len(text)),
		}, decimal.Zero)
	})
}

func (a *RedactionAdapter) executeRedact(capability capabilities.Capability, input any) capabilities.OperationResult {
	return timedExecution(func() capabilities.OperationResult {
		data, ok := input.(map[string]any)
		if !ok {
			return errorResult(redactionProviderName, capability, "input must be a map with a segments field", ErrCodeInvalidInput, false)
		}

		segments, _ := data["segments"].([]any)
		entityTypes := stringSlice(data["entity_types"])
		if len(entityTypes) == 0 {
			entityTypes = allEntityTypes(a.entityEnabled)
		}

		var totalChars int
		redactedCount := 0
		redactedSegments := make([]any, 0, len(segments))
		for _, seg := range segments {
			segMap, ok := seg.(map[string]any)
			if !ok {
				redactedSegments = append(redactedSegments, seg)
				continue
			}
			text, _ := segMap["text"].(string)
			totalChars += len(text)
			redacted, count := a.redact(text, entityTypes)
			redactedCount += count

			out := make(map[string]any, len(segMap))
			for k, v := range segMap {
				out[k] = v
			}
			out["text"] = redacted
			redactedSegments = append(redactedSegments, out)
		}

		return successResult(redactionProviderName, capability, map[string]any{
			"segments":        redactedSegments,
			"redaction_count": redactedCount,
		}, map[string]float64{
			capabilities.UsageCharacterCount: float64(totalChars),
		}, decimal.Zero)
	})
}

// findEntities scans text for every enabled entity type in entityTypes (or
// every known type if entityTypes is empty).
func (a *RedactionAdapter) findEntities(text string, entityTypes []string) []detectedEntity {
	wanted := toWantedSet(entityTypes, a.entityEnabled)
	var out []detectedEntity

	if wanted["PERSON"] {
		for _, loc := range capitalizedNamePattern.FindAllStringIndex(text, -1) {
			out = append(out, detectedEntity{EntityType: "PERSON", Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	for _, p := range a.patterns {
		if !wanted[p.entityType] {
			continue
		}
		for _, loc := range p.regex.FindAllStringIndex(text, -1) {
			out = append(out, detectedEntity{EntityType: p.entityType, Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	return out
}

// redact applies the code-masker-then-regex phases from
// pkg/masking/service.go's applyMasking: PERSON spans (a structural,
// non-regex pass) first, then every requested regex pattern.
func (a *RedactionAdapter) redact(text string, entityTypes []string) (string, int) {
	wanted := toWantedSet(entityTypes, a.entityEnabled)
	masked := text
	count := 0

	if wanted["PERSON"] {
		matches := capitalizedNamePattern.FindAllString(masked, -1)
		count += len(matches)
		masked = capitalizedNamePattern.ReplaceAllString(masked, "[PERSON]")
	}
	for _, p := range a.patterns {
		if !wanted[p.entityType] {
			continue
		}
		matches := p.regex.FindAllString(masked, -1)
		count += len(matches)
		masked = p.regex.ReplaceAllString(masked, p.replacement)
	}
	return masked, count
}

// HealthCheck always reports healthy: an in-process service has nothing
// external to probe.
func (a *RedactionAdapter) HealthCheck(ctx context.Context) bool { return true }

func detectionInput(input any) (text string, entityTypes []string, err error) {
	switch v := input.(type) {
	case string:
		return v, nil, nil
	case map[string]any:
		if t, ok := v["text"].(string); ok {
			return t, stringSlice(v["entity_types"]), nil
		}
		return "", nil, fmt.Errorf("input map has no string \"text\" field")
	default:
		return "", nil, fmt.Errorf("input must be a string or a map with a text field")
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func allEntityTypes(enabled map[string]bool) []string {
	out := make([]string, 0, len(enabled))
	for t := range enabled {
		out = append(out, t)
	}
	return out
}

func toWantedSet(entityTypes []string, enabled map[string]bool) map[string]bool {
	if len(entityTypes) == 0 {
		return enabled
	}
	out := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		out[strings.ToUpper(t)] = true
	}
	return out
}

var _ capabilities.Adapter = (*RedactionAdapter)(nil)
