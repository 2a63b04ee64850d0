package providers

import (
	"github.com/openai/openai-go/v3"
)

// openAIKnownModel pairs one of the SDK's typed model-name constants with
// the catalog capability hints the OpenAI-compatible HTTP backend has no
// other way to learn, since /v1/models returns only ids, not context
// windows or modality support.
type openAIKnownModel struct {
	id         openai.ChatModel
	vision     bool
	tools      bool
	minContext int
	maxOutput  int
}

var openAIKnownModels = []openAIKnownModel{
	{id: openai.ChatModelGPT4o, vision: true, tools: true, minContext: 128_000, maxOutput: 16_384},
	{id: openai.ChatModelGPT4oMini, vision: true, tools: true, minContext: 128_000, maxOutput: 16_384},
	{id: openai.ChatModelGPT4Turbo, vision: true, tools: true, minContext: 128_000, maxOutput: 4_096},
	{id: openai.ChatModelGPT3_5Turbo, vision: false, tools: true, minContext: 16_385, maxOutput: 4_096},
	{id: openai.ChatModelO1, vision: true, tools: true, minContext: 200_000, maxOutput: 100_000},
	{id: openai.ChatModelO1Mini, vision: false, tools: false, minContext: 128_000, maxOutput: 65_536},
	{id: openai.ChatModelO3Mini, vision: false, tools: true, minContext: 200_000, maxOutput: 100_000},
}

// SeedOpenAIModelHints returns catalog entries for the well-known OpenAI
// chat models, keyed to the SDK's own typed model-name constants rather
// than a hand-maintained string list. Used to pre-populate the catalog
// for the "openai" protocol so FindByCapability has answers even before
// any live ListModels refresh has run (OpenAI's /v1/models endpoint
// carries no capability metadata to refresh these hints from).
func SeedOpenAIModelHints() []ModelInfo {
	out := make([]ModelInfo, 0, len(openAIKnownModels))
	for _, m := range openAIKnownModels {
		out = append(out, ModelInfo{
			ProviderID:      "openai",
			ModelID:         string(m.id),
			Vision:          m.vision,
			Tools:           m.tools,
			MinContext:      m.minContext,
			MaxOutputTokens: m.maxOutput,
		})
	}
	return out
}

// IsKnownOpenAIModel reports whether modelID matches one of the SDK's
// typed OpenAI chat-model constants, used to validate bare "openai/<id>"
// model references before a request is ever sent.
func IsKnownOpenAIModel(modelID string) bool {
	for _, m := range openAIKnownModels {
		if string(m.id) == modelID {
			return true
		}
	}
	return false
}
