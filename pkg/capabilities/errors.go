package capabilities

import "errors"

// Sentinel errors returned by Registry, wrapped with fmt.Errorf("%w: %s", ...)
// to carry the offending name, following pkg/services/errors.go's pattern.
var (
	ErrProviderNotFound      = errors.New("provider not found")
	ErrCapabilityUnsupported = errors.New("capability not supported by provider")
	ErrNoFactory             = errors.New("provider has no adapter factory")
	ErrNoProviders           = errors.New("no providers available for capability")
)
