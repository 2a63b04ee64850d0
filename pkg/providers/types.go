package providers

import (
	"context"
	"strings"

	"github.com/aisopod/aisopod/pkg/providers/protocoltypes"
)

// Wire types are shared verbatim with the HTTP-compat backend so that
// messages, tool definitions, and responses never need translation when
// passing between the agent loop, the fallback chain, and a concrete
// backend.
type (
	Message                = protocoltypes.Message
	ToolCall                = protocoltypes.ToolCall
	FunctionCall            = protocoltypes.FunctionCall
	ExtraContent            = protocoltypes.ExtraContent
	GoogleExtra             = protocoltypes.GoogleExtra
	LLMResponse             = protocoltypes.LLMResponse
	UsageInfo               = protocoltypes.UsageInfo
	ReasoningDetail         = protocoltypes.ReasoningDetail
	ContentBlock            = protocoltypes.ContentBlock
	CacheControl            = protocoltypes.CacheControl
	ToolDefinition          = protocoltypes.ToolDefinition
	ToolFunctionDefinition = protocoltypes.ToolFunctionDefinition
)

// LLMProvider is the uniform interface every backend (HTTP-compat,
// Anthropic-native) implements. The agent loop and fallback chain never
// see anything more specific than this.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]any) (*LLMResponse, error)
}

// StatefulProvider is implemented by backends that hold an underlying
// connection or client worth closing on shutdown (e.g. SDK clients with
// keep-alive transports). Plain HTTP-compat providers don't need it.
type StatefulProvider interface {
	Close() error
}

// ModelConfig describes one logical model slot: a primary candidate and an
// ordered list of fallbacks, each in "provider/model" form (or a bare model
// name resolved against defaultProvider).
type ModelConfig struct {
	Primary   string
	Fallbacks []string
}

// ModelRef is a resolved (provider, model) pair.
type ModelRef struct {
	Provider string
	Model    string
}

// ParseModelRef splits a raw "provider/model" string into a ModelRef. If no
// protocol prefix is present, defaultProvider is used. Returns nil for an
// empty raw string.
func ParseModelRef(raw, defaultProvider string) *ModelRef {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	provider, model, found := strings.Cut(raw, "/")
	if !found {
		return &ModelRef{Provider: defaultProvider, Model: raw}
	}
	return &ModelRef{Provider: provider, Model: model}
}

// ModelKey builds the deduplication/cooldown key for a (provider, model) pair.
func ModelKey(provider, model string) string {
	return provider + "/" + model
}

// FailoverReason classifies why a fallback candidate was abandoned.
type FailoverReason string

const (
	// FailoverRateLimit means the provider rejected the request due to
	// rate limiting or quota exhaustion; safe to retry on a different
	// provider and to put the failed one in cooldown.
	FailoverRateLimit FailoverReason = "rate_limit"
	// FailoverFormat means the request itself was malformed for this
	// provider/model (e.g. unsupported image size); retrying on another
	// candidate would fail identically, so it aborts the chain.
	FailoverFormat FailoverReason = "format"
	// FailoverServer means the provider returned a transient server-side
	// error (5xx, timeout, connection reset); safe to retry elsewhere.
	FailoverServer FailoverReason = "server"
	// FailoverAuth means the provider rejected credentials; retrying
	// elsewhere may still succeed if another provider is configured.
	FailoverAuth FailoverReason = "auth"
)

// FailoverError wraps a classified provider error with its failover reason.
type FailoverError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Wrapped  error
}

func (e *FailoverError) Error() string {
	return "provider " + e.Provider + "/" + e.Model + ": " + e.Reason.string() + ": " + e.Wrapped.Error()
}

func (e *FailoverError) Unwrap() error { return e.Wrapped }

// IsRetriable reports whether the fallback chain should try the next
// candidate after this error. Only format errors (the request itself is
// broken) are non-retriable.
func (e *FailoverError) IsRetriable() bool {
	return e.Reason != FailoverFormat
}

func (r FailoverReason) string() string { return string(r) }

// ClassifyError inspects a raw provider error and assigns it a
// FailoverReason. Returns nil if err is nil or matches no known pattern.
func ClassifyError(err error, provider, model string) *FailoverError {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	var reason FailoverReason
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "quota"):
		reason = FailoverRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") || strings.Contains(msg, "403"):
		reason = FailoverAuth
	case IsImageDimensionError(msg) || IsImageSizeError(msg):
		reason = FailoverFormat
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") || strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "string should match pattern"):
		reason = FailoverFormat
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") || strings.Contains(msg, "server error") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "connection reset"):
		reason = FailoverServer
	default:
		return nil
	}
	return &FailoverError{Reason: reason, Provider: provider, Model: model, Wrapped: err}
}

// IsImageDimensionError reports whether a (lowercased) error message
// describes an image dimension rejection from a vision endpoint.
func IsImageDimensionError(msg string) bool {
	return strings.Contains(msg, "image dimension") ||
		strings.Contains(msg, "image too large") ||
		strings.Contains(msg, "dimensions exceed") ||
		strings.Contains(msg, "width") && strings.Contains(msg, "height") && strings.Contains(msg, "exceed")
}

// IsImageSizeError reports whether a (lowercased) error message describes
// an image byte-size rejection from a vision endpoint.
func IsImageSizeError(msg string) bool {
	return strings.Contains(msg, "image size") ||
		strings.Contains(msg, "image exceeds") && strings.Contains(msg, "mb") ||
		strings.Contains(msg, "file size") && strings.Contains(msg, "image") ||
		strings.Contains(msg, "payload too large")
}
