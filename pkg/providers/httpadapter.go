package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/codeready-toolchain/workflow-orchestrator/pkg/capabilities"
)

// HTTPAdapter is embedded by every concrete vendor adapter. It supplies the
// shared *http.Client (reused across requests rather than constructed per
// call, matching the donor's `pkg/mcp` transport idiom) and the timing/error-
// result helpers every adapter's Execute otherwise duplicates.
type HTTPAdapter struct {
	Client *http.Client
}

// NewHTTPAdapter builds an HTTPAdapter with a sane default client timeout.
// Per-call timeouts are still enforced by the caller's context, per
// SPEC_FULL.md §4.2 — this is only a backstop.
func NewHTTPAdapter(timeout time.Duration) HTTPAdapter {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return HTTPAdapter{Client: &http.Client{Timeout: timeout}}
}

// timedExecution measures wall-clock duration around fn, mirroring the
// source's async context-manager `TimedExecution`.
func timedExecution(fn func() capabilities.OperationResult) capabilities.OperationResult {
	start := time.Now()
	result := fn()
	result.LatencyMs = time.Since(start).Milliseconds()
	result.Timestamp = time.Now().UnixMilli()
	return result
}

// errorResult builds a failed OperationResult. retryable should reflect
// whether the executor's retry loop should consider this a transient
// failure — see IsRetryable for the default classification by error code.
func errorResult(provider string, capability capabilities.Capability, errMsg, errorCode string, retryable bool) capabilities.OperationResult {
	return capabilities.OperationResult{
		Success:      false,
		ProviderName: provider,
		Capability:   capability,
		Error:        errMsg,
		ErrorCode:    errorCode,
		Retryable:    retryable,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// successResult builds a successful OperationResult with the given usage
// and cost already computed by the caller's CapabilityMetadata.EstimateCost.
func successResult(provider string, capability capabilities.Capability, data any, usage map[string]float64, cost decimal.Decimal) capabilities.OperationResult {
	return capabilities.OperationResult{
		Success:      true,
		ProviderName: provider,
		Capability:   capability,
		Data:         data,
		Usage:        usage,
		CostUsd:      cost,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// unsupportedCapabilityResult is what every adapter's Execute falls back to
// for a capability its Registration never declared.
func unsupportedCapabilityResult(provider string, capability capabilities.Capability) capabilities.OperationResult {
	return errorResult(provider, capability, "unsupported capability: "+string(capability), ErrCodeUnsupportedCapability, false)
}

// defaultHealthCheck performs a lightweight GET against url and reports
// whether it returned 2xx, for adapters whose HealthCheck is otherwise a
// plain reachability probe.
func defaultHealthCheck(ctx context.Context, client *http.Client, url string) bool {
	if url == "" {
		return true
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// httpStatusErrorType wraps a non-2xx response for adapters making raw
// net/http calls directly (Deepgram, AssemblyAI — no official Go SDK exists
// for either in the example pack).
type httpStatusErrorType struct{ code int }

func (e httpStatusErrorType) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func httpStatusError(code int) error { return httpStatusErrorType{code: code} }
