package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/lucai/internal/finance"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	AgentName       string
	Now             time.Time
	Currency        string
	Summary         string // rendered financial snapshot, empty when unavailable
	LongTermContext string // compact JSON object, empty when the user has none
	ExtraPrompt     string
}

// BuildSystemPrompt constructs the system prompt for the LLM.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	// Identity
	fmt.Fprintf(&b, "You are %s, a friendly and helpful financial assistant. ", cfg.AgentName)
	b.WriteString("Your role is to help users manage their personal finances.\n\n")

	// Date context
	fmt.Fprintf(&b, "Today is: %s\n\n", cfg.Now.Format(time.RFC1123))

	b.WriteString("Conversational style rules:\n")
	b.WriteString("- Never greet the user (\"Olá\", \"Oi\", \"Hello\" or similar) unless this is clearly the first message of a new conversation.\n")
	b.WriteString("- Continue ongoing conversations naturally, without introductory phrases.\n")
	b.WriteString("- Keep a warm, conversational tone without sounding repetitive.\n\n")

	writeCategories(&b, "Available expense categories", finance.ExpenseCategories)
	writeCategories(&b, "Available income categories", finance.IncomeCategories)
	b.WriteString("\n")

	b.WriteString("When the user wants to register a transaction:\n")
	b.WriteString("1. Decide from context whether it is an expense or an income.\n")
	b.WriteString("2. Extract or ask for the title, category and amount.\n")
	b.WriteString("3. Always ask for the transaction date if the user did not give one.\n")
	b.WriteString("4. Ask whether they want to add a description (optional).\n")
	b.WriteString("5. Once you have everything, call createExpense or createIncome.\n")
	b.WriteString("6. If a call returns an error, explain it and ask for the missing or invalid detail.\n")
	b.WriteString("7. Confirm the result with a short friendly message.\n\n")

	if cfg.Currency != "" {
		fmt.Fprintf(&b, "Amounts are in %s.\n", cfg.Currency)
	}
	b.WriteString("Provide financial insights when appropriate. Always respond in the user's language.\n")

	if cfg.Summary != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(cfg.Summary, "\n"))
		b.WriteString("\n")
	}

	if cfg.LongTermContext != "" {
		b.WriteString("\nWhat you know about this user:\n")
		b.WriteString(cfg.LongTermContext)
		b.WriteString("\n")
	}

	// Extra/custom prompt
	if cfg.ExtraPrompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return b.String()
}

func writeCategories(b *strings.Builder, label string, cats []finance.Category) {
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(names, ", "))
}
