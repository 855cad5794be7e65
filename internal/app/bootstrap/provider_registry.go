package bootstrap

import (
	"ragcore/internal/adapter/provider/llm/openai"
	applog "ragcore/internal/platform/log"
	"ragcore/internal/provider"
)

// RegisterLLMProviders 按配置注册 LLM 供应商，未配置 API key 时返回空注册表
func RegisterLLMProviders(apiKey, baseURL string) *provider.Registry {
	reg := provider.NewRegistry()
	if apiKey == "" {
		applog.Warn("⚠️  No OPENAI_API_KEY set, generation and rerank are disabled")
		return reg
	}

	p := openai.New(openai.Config{
		APIKey:  apiKey,
		BaseURL: baseURL,
	})
	reg.Register(p)
	applog.Infof("✅ Registered LLM provider: %s (base: %s)", p.Name(), baseURL)
	return reg
}
