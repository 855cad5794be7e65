package qa

import (
	"fmt"
	"os"
	"strings"
)

// NoInformation 上下文不足以回答时要求模型使用的固定回复
const NoInformation = "I don't have information about that in our documentation."

// DefaultChainPrompt chain 模式系统提示词，{context} 与 {question} 为占位符
const DefaultChainPrompt = `You are a helpful customer support assistant.
Answer the user's question based ONLY on the provided context from the documentation.
The context passages are numbered in order of relevance; prefer earlier passages when they conflict.
If the answer cannot be found in the context, say "` + NoInformation + `"

Context:
{context}`

// DefaultAgentPrompt agent 模式系统提示词
const DefaultAgentPrompt = `You are a helpful customer support assistant.
Use the knowledge_search tool when you need context from the documentation. You may call it at most once.
If the answer is not in the documentation, say "` + NoInformation + `"`

// Prompt 简单占位符模板：{context}、{question}
type Prompt struct {
	text string
}

// NewPrompt 创建模板，空文本使用默认 chain 提示词
func NewPrompt(text string) Prompt {
	if strings.TrimSpace(text) == "" {
		text = DefaultChainPrompt
	}
	return Prompt{text: text}
}

// LoadPrompt 从文件读取模板，path 为空时返回默认模板
func LoadPrompt(path string) (Prompt, error) {
	if path == "" {
		return NewPrompt(""), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Prompt{}, fmt.Errorf("read prompt template %s: %w", path, err)
	}
	if !strings.Contains(string(data), "{context}") {
		return Prompt{}, fmt.Errorf("prompt template %s has no {context} placeholder", path)
	}
	return NewPrompt(string(data)), nil
}

// Render 替换占位符
func (p Prompt) Render(context, question string) string {
	return strings.NewReplacer("{context}", context, "{question}", question).Replace(p.text)
}
