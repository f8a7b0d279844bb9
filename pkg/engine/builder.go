package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// MetadataKeyFrozen marks a request whose environment is change-frozen.
// The request builder sets it from the manifest; policy reads it.
const MetadataKeyFrozen = "frozen"

// RequestSpec describes one deployment the way a manifest supplies it.
// The request builder turns a spec into a validated DeploymentRequest;
// nothing downstream of the builder sees a spec.
type RequestSpec struct {
	// Environment is the environment name.
	Environment string

	// ResourceGroup is the resource group deployments land in.
	ResourceGroup string

	// Region pins region resolution when non-empty.
	Region string

	// Tiers maps each service to its desired tier.
	Tiers map[string]string

	// Template locates the deployment content.
	Template TemplateRef

	// Parameters are inline parameter values.
	Parameters map[string]interface{}

	// StoreParameters lists keys resolved through the parameter store
	// when the request is built. A key listed here must not also be
	// set inline.
	StoreParameters []string

	// MaxAttempts bounds apply attempts. Zero means the engine default.
	MaxAttempts int

	// MaxWallClock bounds run duration. Zero means the engine default.
	MaxWallClock time.Duration

	// SkipHealthChecks skips post-apply probes.
	SkipHealthChecks bool

	// SkipLint skips pre-flight template validation.
	SkipLint bool

	// ProbeParams resolves placeholders in probe targets.
	ProbeParams map[string]string

	// Frozen marks the environment change-frozen for policy.
	Frozen bool

	// Metadata carries operator key-value pairs into run records.
	Metadata map[string]string
}

// RequestBuilder assembles deployment requests from manifest specs.
// Store-backed parameters are read exactly once, here; the run loop
// never consults the store.
type RequestBuilder struct {
	store  ParameterStore
	logger zerolog.Logger
}

// NewRequestBuilder creates a builder. The store may be nil when no
// parameter file is configured; a spec listing store parameters then
// fails to build.
func NewRequestBuilder(store ParameterStore, logger zerolog.Logger) *RequestBuilder {
	return &RequestBuilder{
		store:  store,
		logger: logger.With().Str("component", "builder").Logger(),
	}
}

// Build turns a spec into a normalized, validated request. Maps are
// copied so the request stays detached from the manifest the spec came
// from.
func (b *RequestBuilder) Build(ctx context.Context, spec RequestSpec) (*DeploymentRequest, error) {
	req := &DeploymentRequest{
		Environment:      spec.Environment,
		ResourceGroup:    spec.ResourceGroup,
		DesiredRegion:    spec.Region,
		DesiredTiers:     copyStringMap(spec.Tiers),
		Template:         spec.Template,
		Parameters:       copyValueMap(spec.Parameters),
		MaxAttempts:      spec.MaxAttempts,
		MaxWallClock:     spec.MaxWallClock,
		SkipHealthChecks: spec.SkipHealthChecks,
		SkipLint:         spec.SkipLint,
		ProbeParams:      copyStringMap(spec.ProbeParams),
		Metadata:         copyStringMap(spec.Metadata),
	}

	if spec.Frozen {
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata[MetadataKeyFrozen] = "true"
	}

	if err := b.resolveStoreParameters(ctx, spec, req); err != nil {
		return nil, err
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewLogicError("invalid deployment request", err).
			WithEnvironment(spec.Environment).
			WithOperation("build_request").
			WithCode(ErrCodeValidation)
	}

	b.logger.Debug().
		Str("environment", req.Environment).
		Str("resource_group", req.ResourceGroup).
		Int("max_attempts", req.MaxAttempts).
		Int("store_parameters", len(spec.StoreParameters)).
		Msg("Deployment request built")

	return req, nil
}

// resolveStoreParameters reads each listed key from the parameter
// store and merges the values into the request parameters.
func (b *RequestBuilder) resolveStoreParameters(ctx context.Context, spec RequestSpec, req *DeploymentRequest) error {
	if len(spec.StoreParameters) == 0 {
		return nil
	}
	if b.store == nil {
		return NewLogicError("manifest lists store parameters but no parameter store is configured", nil).
			WithEnvironment(spec.Environment).
			WithOperation("build_request").
			WithCode(ErrCodeValidation)
	}

	for _, key := range spec.StoreParameters {
		if _, set := req.Parameters[key]; set {
			return NewLogicError(fmt.Sprintf("parameter %q is set inline and listed as a store parameter", key), nil).
				WithEnvironment(spec.Environment).
				WithOperation("build_request").
				WithCode(ErrCodeValidation)
		}

		value, found, err := b.store.GetParameter(ctx, spec.Environment, key)
		if err != nil {
			return NewEnvironmentalError(fmt.Sprintf("failed to read parameter %q", key), err).
				WithEnvironment(spec.Environment).
				WithOperation("build_request")
		}
		if !found {
			return NewLogicError(fmt.Sprintf("parameter %q not found for environment %s", key, spec.Environment), nil).
				WithEnvironment(spec.Environment).
				WithOperation("build_request").
				WithCode(ErrCodeValidation)
		}

		if req.Parameters == nil {
			req.Parameters = make(map[string]interface{})
		}
		req.Parameters[key] = value
	}

	return nil
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyValueMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
