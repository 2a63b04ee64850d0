package providers

import "github.com/aisopod/aisopod/pkg/providers/openai_compat"

// NewHTTPProviderWithMaxTokensField builds the shared OpenAI-compatible HTTP
// backend used by every protocol that speaks the OpenAI chat-completions
// wire format (OpenAI itself, OpenRouter, Groq, DeepSeek, Moonshot, local
// vLLM/Ollama, and the rest of the compatible-API providers).
func NewHTTPProviderWithMaxTokensField(apiKey, apiBase, proxy, maxTokensField string) LLMProvider {
	return openai_compat.NewProviderWithMaxTokensField(apiKey, apiBase, proxy, maxTokensField)
}
