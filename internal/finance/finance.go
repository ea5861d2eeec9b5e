// Package finance holds the ledger model the assistant writes to: expense
// and income records, their closed category sets, and the balance summary
// shown to the model.
package finance

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the two record types.
type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

// Category is an upper-case category code.
type Category string

// ExpenseCategories lists every accepted expense category.
var ExpenseCategories = []Category{
	"HOUSING", "UTILITIES", "TRANSPORTATION", "GROCERIES", "FOOD_AND_DINING",
	"HEALTHCARE", "WELLNESS", "PERSONAL_CARE", "FAMILY", "EDUCATION",
	"ENTERTAINMENT", "LEISURE", "FINANCIAL_OBLIGATIONS", "SAVINGS",
	"INVESTMENTS", "DONATIONS", "MISCELLANEOUS", "OTHER",
}

// IncomeCategories lists every accepted income category.
var IncomeCategories = []Category{
	"SALARY", "BONUSES", "FREELANCE", "COMMISSIONS", "SALES", "SERVICE",
	"RENTAL", "DIVIDENDS", "INTEREST", "CAPITAL_GAINS", "ROYALTIES",
	"PENSIONS", "GOVERNMENT_BENEFITS", "OTHER",
}

// Categories returns the category set for a record kind.
func Categories(k Kind) []Category {
	if k == KindIncome {
		return IncomeCategories
	}
	return ExpenseCategories
}

const (
	MaxTitleLen       = 50
	MaxDescriptionLen = 255
)

// Fields are the user-supplied attributes of a new record.
type Fields struct {
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Category        Category        `json:"category"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionDate time.Time       `json:"transactionDate"`
}

// RuleError is returned when a record violates a ledger rule.
type RuleError struct {
	Field   string
	Message string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Check enforces the ledger rules for a record of the given kind.
func (f Fields) Check(k Kind) error {
	title := strings.TrimSpace(f.Title)
	switch {
	case title == "":
		return &RuleError{Field: "title", Message: "is required"}
	case utf8.RuneCountInString(title) > MaxTitleLen:
		return &RuleError{Field: "title", Message: fmt.Sprintf("must be at most %d characters", MaxTitleLen)}
	case utf8.RuneCountInString(f.Description) > MaxDescriptionLen:
		return &RuleError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", MaxDescriptionLen)}
	case f.Category == "":
		return &RuleError{Field: "category", Message: "is required"}
	case !slices.Contains(Categories(k), f.Category):
		return &RuleError{Field: "category", Message: fmt.Sprintf("%q is not a valid %s category", f.Category, k)}
	case !f.Amount.IsPositive():
		return &RuleError{Field: "amount", Message: "must be greater than zero"}
	case f.TransactionDate.IsZero():
		return &RuleError{Field: "transactionDate", Message: "is required"}
	}
	return nil
}

// Record is a stored expense or income.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Kind       Kind      `json:"kind"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	Fields
}

// Service is the ledger the tool executor delegates to. callID is the
// model's tool call identifier; creating twice with the same non-empty
// callID returns the first record.
type Service interface {
	CreateExpense(ctx context.Context, userID, callID string, f Fields) (Record, error)
	CreateIncome(ctx context.Context, userID, callID string, f Fields) (Record, error)
	Summary(ctx context.Context, userID string) (Summary, error)
}
