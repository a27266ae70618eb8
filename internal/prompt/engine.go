// internal/prompt/engine.go
package prompt

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/voicehub/internal/types"
)

// Message is one entry in an assembled prompt, ready to hand to a
// creative endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Engine assembles token-budgeted prompts from conversation threads.
type Engine struct {
	tokenizer   *tiktoken.Tiktoken
	tmpl        *template.Template
	maxTokens   int
	reserve     int
	maxMessages int
}

// New creates a prompt engine. model selects the tokenizer (e.g.
// "gpt-4"), maxTokens is the context window size, reserve is held
// back for the response, and maxMessages caps how much history a
// prompt carries regardless of token headroom.
func New(model string, maxTokens, reserve, maxMessages int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	tmpl, err := template.New("system").Parse(DefaultPrompt)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	if maxMessages <= 0 {
		maxMessages = 10
	}
	return &Engine{
		tokenizer:   enc,
		tmpl:        tmpl,
		maxTokens:   maxTokens,
		reserve:     reserve,
		maxMessages: maxMessages,
	}, nil
}

func (e *Engine) countTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

type promptData struct {
	Time       string
	ThreadID   string
	ThreadType string
	Insight    string
}

// BuildPrompt assembles a system prompt plus as much recent thread
// history as the token budget allows, newest history preferred,
// chronological order preserved. insight is an optional one-line
// live-stream summary injected into the system prompt.
func (e *Engine) BuildPrompt(thread *types.ConversationThread, insight string) ([]Message, error) {
	var sb strings.Builder
	err := e.tmpl.Execute(&sb, promptData{
		Time:       time.Now().Format(time.RFC3339),
		ThreadID:   string(thread.ID),
		ThreadType: string(thread.Type),
		Insight:    insight,
	})
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}
	sysPrompt := sb.String()

	inputBudget := e.maxTokens - e.reserve
	remaining := inputBudget - e.countTokens(sysPrompt)

	// 70% for history, the rest left as safety margin.
	historyBudget := int(float64(remaining) * 0.7)

	history := thread.Messages
	if len(history) > e.maxMessages {
		history = history[len(history)-e.maxMessages:]
	}

	// Walk backwards so the newest exchanges survive a tight budget,
	// then emit in chronological order.
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := e.countTokens(history[i].Text)
		if used+cost > historyBudget {
			break
		}
		used += cost
		start = i
	}

	messages := make([]Message, 0, 1+len(history)-start)
	messages = append(messages, Message{Role: "system", Content: sysPrompt})
	for _, m := range history[start:] {
		messages = append(messages, Message{Role: string(m.Role), Content: m.Text})
	}
	return messages, nil
}
