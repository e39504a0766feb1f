package pandu

// Provider name keys. These double as the suffix of the store keys
// (`api:<provider>`, `models:<provider>`).
const (
	ProviderGroq             = "groq"
	ProviderPollinationsFree = "pollinations_free"
	ProviderPollinationsAPI  = "pollinations_api"
	ProviderOpenRouter       = "openrouter"
	ProviderHuggingFace      = "huggingface"
)

// ModelInfo is display metadata for one model.
type ModelInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ProviderInfo describes one AI provider and its built-in model catalog.
// The built-in list can be extended or overridden at runtime via the
// dynamic catalog in the store (see KeyPool.MergedModels).
type ProviderInfo struct {
	Name        string
	RequiresKey bool
	Models      []ModelInfo
}

var aiProviders = map[string]ProviderInfo{
	ProviderGroq: {
		Name:        "Groq",
		RequiresKey: true,
		Models: []ModelInfo{
			{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", Version: "v3.3"},
			{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant", Version: "v3.1"},
			{ID: "llama-3.2-90b-vision-preview", Name: "Llama 3.2 90B Vision", Version: "v3.2"},
			{ID: "llama-3.2-11b-vision-preview", Name: "Llama 3.2 11B Vision", Version: "v3.2"},
			{ID: "gemma2-9b-it", Name: "Gemma2 9B", Version: "v2"},
			{ID: "mixtral-8x7b-32768", Name: "Mixtral 8x7B", Version: "8x7B"},
		},
	},
	ProviderPollinationsFree: {
		Name:        "Pollinations (Free)",
		RequiresKey: false,
		Models: []ModelInfo{
			{ID: "openai", Name: "OpenAI GPT", Version: "GPT-4.1"},
			{ID: "openai-large", Name: "OpenAI Large", Version: "GPT-4.1-large"},
			{ID: "openai-reasoning", Name: "OpenAI Reasoning", Version: "o3-mini"},
			{ID: "qwen", Name: "Qwen", Version: "Qwen3"},
			{ID: "qwen-coder", Name: "Qwen Coder", Version: "Qwen3-Coder"},
			{ID: "llama", Name: "Llama", Version: "Llama-3.3"},
			{ID: "mistral", Name: "Mistral", Version: "Mistral-Small"},
			{ID: "mistral-large", Name: "Mistral Large", Version: "Mistral-Large"},
			{ID: "searchgpt", Name: "SearchGPT", Version: "v1"},
			{ID: "deepseek", Name: "DeepSeek", Version: "V3"},
			{ID: "deepseek-r1", Name: "DeepSeek R1", Version: "R1"},
			{ID: "gemini", Name: "Gemini", Version: "2.5-Pro"},
			{ID: "gemini-thinking", Name: "Gemini Thinking", Version: "2.5-Flash-Thinking"},
		},
	},
	ProviderPollinationsAPI: {
		Name:        "Pollinations (API)",
		RequiresKey: true,
		Models: []ModelInfo{
			{ID: "openai", Name: "OpenAI GPT (API)", Version: "GPT-4.1"},
			{ID: "openai-large", Name: "OpenAI Large (API)", Version: "GPT-4.1-large"},
			{ID: "claude", Name: "Claude (API)", Version: "Claude-3.5"},
			{ID: "gemini", Name: "Gemini (API)", Version: "2.5-Pro"},
		},
	},
	ProviderOpenRouter: {
		Name:        "OpenRouter",
		RequiresKey: true,
		Models: []ModelInfo{
			{ID: "qwen/qwen3-4b:free", Name: "Qwen3 4B", Version: "4B-free"},
			{ID: "qwen/qwen3-14b:free", Name: "Qwen3 14B", Version: "14B-free"},
			{ID: "qwen/qwen3-32b:free", Name: "Qwen3 32B", Version: "32B-free"},
			{ID: "deepseek/deepseek-r1t-chimera:free", Name: "DeepSeek R1T Chimera", Version: "R1T-free"},
			{ID: "google/gemma-3-4b:free", Name: "Gemma 3 4B", Version: "4B-free"},
			{ID: "google/gemma-3-12b:free", Name: "Gemma 3 12B", Version: "12B-free"},
			{ID: "google/gemma-3-27b:free", Name: "Gemma 3 27B", Version: "27B-free"},
			{ID: "mistralai/mistral-small-3.1-24b:free", Name: "Mistral Small 3.1 24B", Version: "24B-free"},
			{ID: "nvidia/llama-3.1-nemotron-70b-instruct:free", Name: "Nemotron 70B", Version: "70B-free"},
			{ID: "meta-llama/llama-3.2-3b-instruct:free", Name: "Llama 3.2 3B", Version: "3B-free"},
			{ID: "thudm/glm-4.5-air:free", Name: "GLM 4.5 Air", Version: "4.5-free"},
		},
	},
	ProviderHuggingFace: {
		Name:        "HuggingFace",
		RequiresKey: true,
		Models: []ModelInfo{
			{ID: "meta-llama/Llama-3.1-8B-Instruct", Name: "Llama 3.1 8B", Version: "3.1-8B"},
			{ID: "meta-llama/Llama-3.2-3B-Instruct", Name: "Llama 3.2 3B", Version: "3.2-3B"},
			{ID: "mistralai/Mistral-7B-Instruct-v0.3", Name: "Mistral 7B", Version: "7B-v0.3"},
			{ID: "microsoft/Phi-3-mini-4k-instruct", Name: "Phi-3 Mini", Version: "mini-4k"},
			{ID: "Qwen/Qwen2.5-72B-Instruct", Name: "Qwen 2.5 72B", Version: "2.5-72B"},
			{ID: "google/gemma-2-9b-it", Name: "Gemma 2 9B", Version: "2-9B"},
		},
	},
}

// providerDisplayName returns the human-readable provider name, falling
// back to the raw key for unknown providers.
func providerDisplayName(provider string) string {
	if p, ok := aiProviders[provider]; ok {
		return p.Name
	}
	return provider
}

// providerModels returns the built-in model catalog for a provider.
func providerModels(provider string) []ModelInfo {
	return aiProviders[provider].Models
}

// modelInfo resolves display metadata for a model ID within a provider's
// built-in catalog. Unknown models come back with the raw ID and an
// "unknown" version so callers always have something to show.
func modelInfo(provider, modelID string) ModelInfo {
	for _, m := range providerModels(provider) {
		if m.ID == modelID {
			return m
		}
	}
	return ModelInfo{ID: modelID, Name: modelID, Version: "unknown"}
}

// DefaultSystemPrompt is prepended to every AI request unless a guild
// overrides it.
const DefaultSystemPrompt = `You are a helpful, friendly Discord assistant.
Answer concisely and stay on topic. Admit when you don't know something and
say so instead of guessing. Avoid markdown tables; Discord renders them poorly.`
