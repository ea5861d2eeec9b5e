package llm

import (
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"github.com/soyeahso/lucai/internal/logging"
)

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(s string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// EstimateCounter approximates one token per four characters. It is used
// when no BPE vocabulary can be loaded.
type EstimateCounter struct{}

func (EstimateCounter) Count(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// NewTokenCounter returns a tiktoken counter for model, falling back to
// cl100k_base and then to EstimateCounter.
func NewTokenCounter(model string, log *logging.Logger) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		log.Warn().Err(err).Str("model", model).Msg("tokenizer unavailable, estimating token counts")
		return EstimateCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// Per-message framing overhead used by OpenAI chat models.
const (
	messageOverhead = 4
	replyPriming    = 3
)

// CountMessageTokens returns the token cost of one message.
func CountMessageTokens(c TokenCounter, m Message) int {
	n := messageOverhead + c.Count(m.Content)
	for _, tc := range m.ToolCalls {
		n += c.Count(tc.Name) + c.Count(tc.Arguments)
	}
	return n
}

// CountMessagesTokens returns the token cost of a whole prompt.
func CountMessagesTokens(c TokenCounter, msgs []Message) int {
	total := replyPriming
	for _, m := range msgs {
		total += CountMessageTokens(c, m)
	}
	return total
}
