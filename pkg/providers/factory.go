package providers

import (
	"fmt"
	"strings"

	"github.com/aisopod/aisopod/pkg/auth"
	"github.com/aisopod/aisopod/pkg/config"
	"github.com/aisopod/aisopod/pkg/logger"
)

const defaultAnthropicAPIBase = "https://api.anthropic.com/v1"

var getCredential = auth.GetCredential

type providerType int

const (
	providerTypeHTTPCompat providerType = iota
	providerTypeAnthropicNative
	providerTypeAnthropicAuth
)

type providerSelection struct {
	providerType    providerType
	apiKey          string
	apiBase         string
	proxy           string
	model           string
	enableWebSearch bool
}

// CreateProvider builds the default LLMProvider for the agent's configured
// model, returning the provider, the model ID as configured (any
// "provider/" prefix is kept; a DeepSeek model other than deepseek-chat or
// deepseek-reasoner becomes deepseek-chat), and an error if no usable
// configuration was found.
func CreateProvider(cfg *config.Config) (LLMProvider, string, error) {
	sel, err := resolveProviderSelection(cfg)
	if err != nil {
		return nil, "", err
	}

	switch sel.providerType {
	case providerTypeAnthropicAuth:
		provider, err := createAnthropicAuthProvider()
		if err != nil {
			return nil, "", err
		}
		return provider, sel.model, nil
	case providerTypeAnthropicNative:
		return NewAnthropicProvider(sel.apiKey, sel.apiBase), sel.model, nil
	default:
		return NewHTTPProviderWithMaxTokensField(sel.apiKey, sel.apiBase, sel.proxy, ""), sel.model, nil
	}
}

// BuildRegistry seeds a Registry and backing Catalog from the already
// constructed default provider plus every entry in cfg.ModelList, so a
// caller-supplied model name (e.g. a subagent's optional model override)
// can resolve through ResolveModel/FindByCapability instead of being
// handed to a provider as an unchecked string. Providers for model-list
// entries that fail to construct (missing credentials, unknown protocol)
// are skipped; their aliases are simply left unresolved.
func BuildRegistry(cfg *config.Config, defaultProvider LLMProvider) (*Registry, *Catalog) {
	registry := NewRegistry()

	defaultModel := cfg.Agents.Defaults.Model
	defaultProviderID := strings.ToLower(cfg.Agents.Defaults.Provider)
	if defaultProviderID == "" {
		defaultProviderID, _ = ExtractProtocol(defaultModel)
	}
	if defaultProviderID == "" {
		defaultProviderID = "default"
	}
	if defaultProvider != nil {
		registry.Register(defaultProviderID, defaultProvider)
		if defaultModel != "" {
			registry.RegisterAlias(defaultModel, defaultProviderID, defaultModel)
		}
	}

	for i := range cfg.ModelList {
		mc := cfg.ModelList[i]
		if mc.ModelName == "" || mc.Model == "" {
			continue
		}
		protocol, modelID := ExtractProtocol(mc.Model)
		providerID := protocol
		if providerID == "" {
			providerID = defaultProviderID
		}
		if _, ok := registry.Get(providerID); !ok {
			if provider, _, err := CreateProviderFromConfig(&mc); err == nil {
				registry.Register(providerID, provider)
			} else {
				logger.WarnCF("providers", "model list entry skipped from registry", map[string]any{
					"model_name": mc.ModelName,
					"error":      err.Error(),
				})
				continue
			}
		}
		registry.RegisterAlias(mc.ModelName, providerID, modelID)
	}

	return registry, NewCatalog(registry, 0)
}

func resolveProviderSelection(cfg *config.Config) (providerSelection, error) {
	model := cfg.Agents.Defaults.Model
	providerName := strings.ToLower(cfg.Agents.Defaults.Provider)
	lowerModel := strings.ToLower(model)

	sel := providerSelection{
		providerType: providerTypeHTTPCompat,
		model:        model,
	}

	if providerName != "" {
		switch providerName {
		case "groq":
			if cfg.Providers.Groq.APIKey != "" {
				sel.apiKey = cfg.Providers.Groq.APIKey
				sel.apiBase = cfg.Providers.Groq.APIBase
				sel.proxy = cfg.Providers.Groq.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://api.groq.com/openai/v1"
				}
			}
		case "openai", "gpt":
			if cfg.Providers.OpenAI.APIKey != "" {
				sel.enableWebSearch = cfg.Providers.OpenAI.WebSearch
				sel.apiKey = cfg.Providers.OpenAI.APIKey
				sel.apiBase = cfg.Providers.OpenAI.APIBase
				sel.proxy = cfg.Providers.OpenAI.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://api.openai.com/v1"
				}
				if sel.apiBase == "https://api.openai.com/v1" && !IsKnownOpenAIModel(model) {
					logger.WarnCF("providers", "model not in the SDK's known OpenAI model list", map[string]any{"model": model})
				}
			}
		case "anthropic", "claude":
			if cfg.Providers.Anthropic.AuthMethod == "oauth" || cfg.Providers.Anthropic.AuthMethod == "token" {
				sel.providerType = providerTypeAnthropicAuth
				return sel, nil
			}
			if cfg.Providers.Anthropic.APIKey != "" {
				sel.providerType = providerTypeAnthropicNative
				sel.apiKey = cfg.Providers.Anthropic.APIKey
				sel.apiBase = cfg.Providers.Anthropic.APIBase
				sel.proxy = cfg.Providers.Anthropic.Proxy
			}
		case "openrouter":
			if cfg.Providers.OpenRouter.APIKey != "" {
				sel.apiKey = cfg.Providers.OpenRouter.APIKey
				sel.proxy = cfg.Providers.OpenRouter.Proxy
				sel.apiBase = cfg.Providers.OpenRouter.APIBase
				if sel.apiBase == "" {
					sel.apiBase = "https://openrouter.ai/api/v1"
				}
			}
		case "zhipu", "glm":
			if cfg.Providers.Zhipu.APIKey != "" {
				sel.apiKey = cfg.Providers.Zhipu.APIKey
				sel.apiBase = cfg.Providers.Zhipu.APIBase
				sel.proxy = cfg.Providers.Zhipu.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://open.bigmodel.cn/api/paas/v4"
				}
			}
		case "gemini", "google":
			if cfg.Providers.Gemini.APIKey != "" {
				sel.apiKey = cfg.Providers.Gemini.APIKey
				sel.apiBase = cfg.Providers.Gemini.APIBase
				sel.proxy = cfg.Providers.Gemini.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://generativelanguage.googleapis.com/v1beta"
				}
			}
		case "vllm":
			if cfg.Providers.VLLM.APIBase != "" {
				sel.apiKey = cfg.Providers.VLLM.APIKey
				sel.apiBase = cfg.Providers.VLLM.APIBase
				sel.proxy = cfg.Providers.VLLM.Proxy
			}
		case "shengsuanyun":
			if cfg.Providers.ShengSuanYun.APIKey != "" {
				sel.apiKey = cfg.Providers.ShengSuanYun.APIKey
				sel.apiBase = cfg.Providers.ShengSuanYun.APIBase
				sel.proxy = cfg.Providers.ShengSuanYun.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://router.shengsuanyun.com/api/v1"
				}
			}
		case "nvidia":
			if cfg.Providers.Nvidia.APIKey != "" {
				sel.apiKey = cfg.Providers.Nvidia.APIKey
				sel.apiBase = cfg.Providers.Nvidia.APIBase
				sel.proxy = cfg.Providers.Nvidia.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://integrate.api.nvidia.com/v1"
				}
			}
		case "deepseek":
			if cfg.Providers.DeepSeek.APIKey != "" {
				sel.apiKey = cfg.Providers.DeepSeek.APIKey
				sel.apiBase = cfg.Providers.DeepSeek.APIBase
				sel.proxy = cfg.Providers.DeepSeek.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://api.deepseek.com/v1"
				}
				if model != "deepseek-chat" && model != "deepseek-reasoner" {
					sel.model = "deepseek-chat"
				}
			}
		case "mistral":
			if cfg.Providers.Mistral.APIKey != "" {
				sel.apiKey = cfg.Providers.Mistral.APIKey
				sel.apiBase = cfg.Providers.Mistral.APIBase
				sel.proxy = cfg.Providers.Mistral.Proxy
				if sel.apiBase == "" {
					sel.apiBase = "https://api.mistral.ai/v1"
				}
			}
		}
	}

	if sel.apiKey == "" && sel.apiBase == "" && sel.providerType == providerTypeHTTPCompat {
		switch {
		case (strings.Contains(lowerModel, "kimi") || strings.Contains(lowerModel, "moonshot") || strings.HasPrefix(model, "moonshot/")) && cfg.Providers.Moonshot.APIKey != "":
			sel.apiKey = cfg.Providers.Moonshot.APIKey
			sel.apiBase = cfg.Providers.Moonshot.APIBase
			sel.proxy = cfg.Providers.Moonshot.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "https://api.moonshot.cn/v1"
			}
		case strings.HasPrefix(model, "openrouter/") || strings.HasPrefix(model, "anthropic/") ||
			strings.HasPrefix(model, "openai/") || strings.HasPrefix(model, "meta-llama/") ||
			strings.HasPrefix(model, "deepseek/") || strings.HasPrefix(model, "google/"):
			sel.apiKey = cfg.Providers.OpenRouter.APIKey
			sel.proxy = cfg.Providers.OpenRouter.Proxy
			sel.apiBase = cfg.Providers.OpenRouter.APIBase
			if sel.apiBase == "" {
				sel.apiBase = "https://openrouter.ai/api/v1"
			}
		case (strings.Contains(lowerModel, "claude") || strings.HasPrefix(model, "anthropic/")) && cfg.Providers.Anthropic.APIKey != "":
			sel.providerType = providerTypeAnthropicNative
			sel.apiKey = cfg.Providers.Anthropic.APIKey
			sel.apiBase = cfg.Providers.Anthropic.APIBase
		case (strings.Contains(lowerModel, "gpt") || strings.HasPrefix(model, "openai/")) && cfg.Providers.OpenAI.APIKey != "":
			sel.enableWebSearch = cfg.Providers.OpenAI.WebSearch
			sel.apiKey = cfg.Providers.OpenAI.APIKey
			sel.apiBase = cfg.Providers.OpenAI.APIBase
			sel.proxy = cfg.Providers.OpenAI.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "https://api.openai.com/v1"
			}
		case (strings.Contains(lowerModel, "gemini") || strings.HasPrefix(model, "google/")) && cfg.Providers.Gemini.APIKey != "":
			sel.apiKey = cfg.Providers.Gemini.APIKey
			sel.apiBase = cfg.Providers.Gemini.APIBase
			sel.proxy = cfg.Providers.Gemini.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "https://generativelanguage.googleapis.com/v1beta"
			}
		case (strings.Contains(lowerModel, "glm") || strings.Contains(lowerModel, "zhipu") || strings.Contains(lowerModel, "zai")) && cfg.Providers.Zhipu.APIKey != "":
			sel.apiKey = cfg.Providers.Zhipu.APIKey
			sel.apiBase = cfg.Providers.Zhipu.APIBase
			sel.proxy = cfg.Providers.Zhipu.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "https://open.bigmodel.cn/api/paas/v4"
			}
		case (strings.Contains(lowerModel, "groq") || strings.HasPrefix(model, "groq/")) && cfg.Providers.Groq.APIKey != "":
			sel.apiKey = cfg.Providers.Groq.APIKey
			sel.apiBase = cfg.Providers.Groq.APIBase
			sel.proxy = cfg.Providers.Groq.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "https://api.groq.com/openai/v1"
			}
		case (strings.Contains(lowerModel, "nvidia") || strings.HasPrefix(model, "nvidia/")) && cfg.Providers.Nvidia.APIKey != "":
			sel.apiKey = cfg.Providers.Nvidia.APIKey
			sel.apiBase = cfg.Providers.Nvidia.APIBase
			sel.proxy = cfg.Providers.Nvidia.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "https://integrate.api.nvidia.com/v1"
			}
		case (strings.Contains(lowerModel, "ollama") || strings.HasPrefix(model, "ollama/")) && cfg.Providers.Ollama.APIKey != "":
			sel.apiKey = cfg.Providers.Ollama.APIKey
			sel.apiBase = cfg.Providers.Ollama.APIBase
			sel.proxy = cfg.Providers.Ollama.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "http://localhost:11434/v1"
			}
		case (strings.Contains(lowerModel, "mistral") || strings.HasPrefix(model, "mistral/")) && cfg.Providers.Mistral.APIKey != "":
			sel.apiKey = cfg.Providers.Mistral.APIKey
			sel.apiBase = cfg.Providers.Mistral.APIBase
			sel.proxy = cfg.Providers.Mistral.Proxy
			if sel.apiBase == "" {
				sel.apiBase = "https://api.mistral.ai/v1"
			}
		case cfg.Providers.VLLM.APIBase != "":
			sel.apiKey = cfg.Providers.VLLM.APIKey
			sel.apiBase = cfg.Providers.VLLM.APIBase
			sel.proxy = cfg.Providers.VLLM.Proxy
		default:
			if cfg.Providers.OpenRouter.APIKey != "" {
				sel.apiKey = cfg.Providers.OpenRouter.APIKey
				sel.proxy = cfg.Providers.OpenRouter.Proxy
				sel.apiBase = cfg.Providers.OpenRouter.APIBase
				if sel.apiBase == "" {
					sel.apiBase = "https://openrouter.ai/api/v1"
				}
			} else {
				return providerSelection{}, fmt.Errorf("no API key configured for model: %s", model)
			}
		}
	}

	if sel.providerType == providerTypeHTTPCompat {
		if sel.apiKey == "" && !strings.HasPrefix(model, "bedrock/") {
			return providerSelection{}, fmt.Errorf("no API key configured for provider (model: %s)", model)
		}
		if sel.apiBase == "" {
			return providerSelection{}, fmt.Errorf("no API base configured for provider (model: %s)", model)
		}
	}
	if sel.providerType == providerTypeAnthropicNative && sel.apiBase == "" {
		sel.apiBase = defaultAnthropicAPIBase
	}

	return sel, nil
}
