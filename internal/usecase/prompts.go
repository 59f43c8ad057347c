// File: internal/usecase/prompts.go
package usecase

import (
	"context"
	"strings"
	"unicode"

	"audio-assistant/internal/domain/model"
	"audio-assistant/internal/domain/ports/adapter"
)

// Role tokens of the prompt format the assistant LLM was tuned on.
const (
	UserToken      = "<|prompter|>"
	AssistantToken = "<|assistant|>"
	EndToken       = "<|endoftext|>"
)

// Intent labels produced by PromptClassifier.
const (
	LabelOpenQA = "open_qa"
	LabelChat   = "chat"
)

const (
	maxContextRunes = 8192
	answerMaxTokens = 512
)

var (
	answerStop = []string{"<|", EndToken}
	lineStop   = []string{"\n", EndToken}

	trailingStopTokens = []string{EndToken, UserToken, AssistantToken, "</s>", "<|"}
)

// StripStopTokens removes stop tokens and whitespace from the end of s until
// none are left. Applying it twice gives the same result as once.
func StripStopTokens(s string) string {
	for {
		t := strings.TrimRightFunc(s, unicode.IsSpace)
		for _, tok := range trailingStopTokens {
			t = strings.TrimSuffix(t, tok)
		}
		if t == s {
			return s
		}
		s = t
	}
}

// renderHistory flattens a conversation into plain "User:/Assistant:" lines.
func renderHistory(conv model.Conversation) string {
	var b strings.Builder
	for _, t := range conv.Turns {
		switch t.Role {
		case model.RoleUser:
			b.WriteString("User: ")
		case model.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(strings.TrimSpace(t.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

func queryPrompt(history string) string {
	return UserToken +
		"Rewrite the last user message of the conversation below as a single self-contained search query. " +
		"Reply with the query only.\n\n" + history +
		EndToken + AssistantToken
}

func questionPrompt(history string) string {
	return UserToken +
		"Rewrite the last user message of the conversation below as a complete question " +
		"that can be understood without the conversation. Reply with the question only.\n\n" + history +
		EndToken + AssistantToken
}

func classifyPrompt(question string) string {
	return UserToken +
		"Does answering the question below need current facts from the web? " +
		"Reply with \"search\" or \"local\" only.\n\nQuestion: " + question +
		EndToken + AssistantToken
}

func relevancePrompt(question, passage string) string {
	return UserToken +
		"Passage:\n" + passage +
		"\n\nIs the passage useful to answer the question \"" + question + "\"? " +
		"Reply with \"relevant\" or \"irrelevant\" only." +
		EndToken + AssistantToken
}

// qaPrompt asks for an answer grounded on context. context may be empty.
func qaPrompt(context, question, answerLanguage string) string {
	if answerLanguage == "" {
		answerLanguage = "english"
	}
	return UserToken + context +
		"\nQuestion: \n\n" + question +
		"\n\nAnswer in " + answerLanguage + " plain text:" +
		EndToken + AssistantToken
}

// localPrompt renders the whole conversation with role tokens and leaves the
// assistant turn open.
func localPrompt(conv model.Conversation) string {
	var b strings.Builder
	for _, t := range conv.Turns {
		switch t.Role {
		case model.RoleSystem:
			b.WriteString(t.Text)
			b.WriteByte('\n')
		case model.RoleUser:
			b.WriteString(UserToken + t.Text + EndToken)
		case model.RoleAssistant:
			b.WriteString(AssistantToken + t.Text + EndToken)
		}
	}
	b.WriteString(AssistantToken)
	return b.String()
}

// PromptClassifier labels a question with the LLM itself when no dedicated
// classification endpoint is configured.
type PromptClassifier struct {
	llm adapter.LLM
}

var _ adapter.Classifier = (*PromptClassifier)(nil)

func NewPromptClassifier(llm adapter.LLM) *PromptClassifier {
	return &PromptClassifier{llm: llm}
}

func (c *PromptClassifier) Classify(ctx context.Context, text string) (string, error) {
	out, err := c.llm.Complete(ctx, adapter.GenerateRequest{
		Prompt:      classifyPrompt(text),
		MaxTokens:   3,
		Temperature: 0.1,
		Stop:        lineStop,
	})
	if err != nil {
		return "", err
	}
	if strings.Contains(strings.ToLower(out), "search") {
		return LabelOpenQA, nil
	}
	return LabelChat, nil
}
