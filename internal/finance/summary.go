package finance

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is a point-in-time balance for one user.
type Snapshot struct {
	UserID         string          `json:"userId"`
	TotalIncome    decimal.Decimal `json:"totalIncome"`
	TotalExpense   decimal.Decimal `json:"totalExpense"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	CalculatedAt   time.Time       `json:"calculatedAt"`
}

// CategoryTotal is the summed amount of one category.
type CategoryTotal struct {
	Category Category        `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// Summary is the financial picture injected into the system prompt.
type Summary struct {
	Currency       string          `json:"currency"`
	Records        int             `json:"records"`
	TotalIncome    decimal.Decimal `json:"totalIncome"`
	TotalExpense   decimal.Decimal `json:"totalExpense"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	RecentDays     int             `json:"recentDays"`
	TopExpenses    []CategoryTotal `json:"topExpenses,omitempty"`
	Previous       *Snapshot       `json:"previous,omitempty"`
}

const topCategories = 5

// Summarize totals records and ranks the expense categories whose
// transactions fall within the last recentDays days before now.
func Summarize(records []Record, currency string, recentDays int, now time.Time) Summary {
	s := Summary{
		Currency:   currency,
		Records:    len(records),
		RecentDays: recentDays,
	}
	cutoff := now.AddDate(0, 0, -recentDays)
	byCategory := map[Category]decimal.Decimal{}

	for _, r := range records {
		switch r.Kind {
		case KindIncome:
			s.TotalIncome = s.TotalIncome.Add(r.Amount)
		case KindExpense:
			s.TotalExpense = s.TotalExpense.Add(r.Amount)
			if !r.TransactionDate.Before(cutoff) && !r.TransactionDate.After(now) {
				byCategory[r.Category] = byCategory[r.Category].Add(r.Amount)
			}
		}
	}
	s.CurrentBalance = s.TotalIncome.Sub(s.TotalExpense)

	for c, total := range byCategory {
		s.TopExpenses = append(s.TopExpenses, CategoryTotal{Category: c, Total: total})
	}
	slices.SortFunc(s.TopExpenses, func(a, b CategoryTotal) int {
		if c := b.Total.Cmp(a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	if len(s.TopExpenses) > topCategories {
		s.TopExpenses = s.TopExpenses[:topCategories]
	}
	return s
}

// Snapshot returns the totals of s as a snapshot taken at t.
func (s Summary) Snapshot(userID string, t time.Time) Snapshot {
	return Snapshot{
		UserID:         userID,
		TotalIncome:    s.TotalIncome,
		TotalExpense:   s.TotalExpense,
		CurrentBalance: s.CurrentBalance,
		CalculatedAt:   t,
	}
}

// Render formats the summary as plain text for the model.
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User financial summary (%s):\n", s.Currency)
	if s.Records == 0 {
		b.WriteString("- No transactions registered yet.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- Current balance: %s\n", s.CurrentBalance.StringFixed(2))
	fmt.Fprintf(&b, "- Total income: %s\n", s.TotalIncome.StringFixed(2))
	fmt.Fprintf(&b, "- Total expenses: %s\n", s.TotalExpense.StringFixed(2))
	if len(s.TopExpenses) > 0 {
		parts := make([]string, len(s.TopExpenses))
		for i, ct := range s.TopExpenses {
			parts[i] = fmt.Sprintf("%s %s", ct.Category, ct.Total.StringFixed(2))
		}
		fmt.Fprintf(&b, "- Top expense categories in the last %d days: %s\n", s.RecentDays, strings.Join(parts, ", "))
	}
	if s.Previous != nil {
		fmt.Fprintf(&b, "- Balance at %s: %s\n",
			s.Previous.CalculatedAt.UTC().Format("2006-01-02 15:04 MST"),
			s.Previous.CurrentBalance.StringFixed(2))
	}
	return b.String()
}
