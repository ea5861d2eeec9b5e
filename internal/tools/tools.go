// Package tools exposes the ledger-writing functions the model may call and
// executes validated calls against the finance service.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/soyeahso/lucai/internal/finance"
	"github.com/soyeahso/lucai/internal/llm"
	"github.com/soyeahso/lucai/internal/logging"
)

// Name is the closed set of tools offered to the model.
type Name string

const (
	CreateExpense Name = "createExpense"
	CreateIncome  Name = "createIncome"
)

// Names lists every tool in declaration order.
var Names = []Name{CreateExpense, CreateIncome}

// ParseName maps a model-supplied name onto the closed set.
func ParseName(s string) (Name, bool) {
	switch Name(s) {
	case CreateExpense, CreateIncome:
		return Name(s), true
	}
	return "", false
}

// Kind returns the record kind the tool creates.
func (n Name) Kind() (finance.Kind, bool) {
	switch n {
	case CreateExpense:
		return finance.KindExpense, true
	case CreateIncome:
		return finance.KindIncome, true
	}
	return "", false
}

func (n Name) description() string {
	switch n {
	case CreateIncome:
		return "Creates a new income for the user. Use this when the user wants to register money received."
	default:
		return "Creates a new expense for the user. Use this when the user wants to register a spending or cost."
	}
}

// Request is a tool call issued by the model. Arguments are untrusted.
type Request struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RequestFromCall converts an llm tool call.
func RequestFromCall(tc llm.ToolCall) Request {
	return Request{ID: tc.ID, Name: tc.Name, Arguments: json.RawMessage(tc.Arguments)}
}

// ValidationError reports arguments that failed schema or ledger rules.
type ValidationError struct {
	Tool    Name
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("invalid arguments for %s: %s %s", e.Tool, e.Field, e.Message)
}

// ToolExecutionError reports a finance-service failure for a valid call.
type ToolExecutionError struct {
	Tool Name
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Echo is the stored record as reported back to the model.
type Echo struct {
	Kind            finance.Kind `json:"kind"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Category        string       `json:"category"`
	Amount          string       `json:"amount"`
	Currency        string       `json:"currency"`
	TransactionDate string       `json:"transactionDate"`
}

// Result is the outcome of one tool call. It is re-injected into the
// conversation as a tool message keyed by CallID.
type Result struct {
	CallID   string `json:"-"`
	Tool     string `json:"-"`
	OK       bool   `json:"ok"`
	RecordID string `json:"recordId,omitempty"`
	Record   *Echo  `json:"record,omitempty"`
	Error    string `json:"error,omitempty"`

	// Err is the typed failure, nil on success.
	Err error `json:"-"`
}

// Content renders the result as the JSON body of a tool message.
func (r Result) Content() string {
	b, err := json.Marshal(r)
	if err != nil {
		return `{"ok":false,"error":"result could not be encoded"}`
	}
	return string(b)
}

// Message returns the tool message carrying this result.
func (r Result) Message() llm.Message {
	return llm.Message{Role: llm.RoleTool, ToolCallID: r.CallID, Content: r.Content()}
}

// Status is a short label for metrics and logs.
func (r Result) Status() string {
	var ve *ValidationError
	switch {
	case r.OK:
		return "ok"
	case errors.As(r.Err, &ve):
		return "invalid"
	default:
		return "failed"
	}
}

func failure(req Request, err error) Result {
	return Result{CallID: req.ID, Tool: req.Name, Error: err.Error(), Err: err}
}

// Executor validates tool calls and writes records through a finance.Service.
type Executor struct {
	ledger   finance.Service
	currency string
	loc      *time.Location
	tools    map[Name]*compiledTool
	log      *logging.Logger
}

// NewExecutor compiles the tool schemas. Date-only arguments are read in loc.
func NewExecutor(ledger finance.Service, currency string, loc *time.Location, log *logging.Logger) (*Executor, error) {
	if loc == nil {
		loc = time.Local
	}
	e := &Executor{
		ledger:   ledger,
		currency: currency,
		loc:      loc,
		tools:    make(map[Name]*compiledTool, len(Names)),
		log:      log.Sub("tools"),
	}
	for _, n := range Names {
		ct, err := compileTool(n)
		if err != nil {
			return nil, err
		}
		e.tools[n] = ct
	}
	return e, nil
}

// Definitions returns the tool declarations sent with every model request.
func (e *Executor) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(Names))
	for _, n := range Names {
		ct := e.tools[n]
		defs = append(defs, llm.ToolDefinition{Name: string(n), Description: ct.desc, Parameters: ct.raw})
	}
	return defs
}

type arguments struct {
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Category        string      `json:"category"`
	Amount          json.Number `json:"amount"`
	TransactionDate string      `json:"transactionDate"`
}

// Execute runs one tool call for userID. Failures are returned inside the
// Result so the model can react to them.
func (e *Executor) Execute(ctx context.Context, req Request, userID string) Result {
	name, ok := ParseName(req.Name)
	if !ok {
		return failure(req, &ValidationError{Tool: Name(req.Name), Message: "unknown tool"})
	}
	ct := e.tools[name]
	log := e.log.With("tool", string(name)).With("callId", req.ID)

	fields, err := e.parse(ct, req.Arguments)
	if err != nil {
		log.Info().Err(err).Msg("tool call rejected")
		return failure(req, err)
	}

	var rec finance.Record
	switch ct.kind {
	case finance.KindIncome:
		rec, err = e.ledger.CreateIncome(ctx, userID, req.ID, fields)
	default:
		rec, err = e.ledger.CreateExpense(ctx, userID, req.ID, fields)
	}
	if err != nil {
		var re *finance.RuleError
		if errors.As(err, &re) {
			return failure(req, &ValidationError{Tool: name, Field: re.Field, Message: re.Message})
		}
		log.Error().Err(err).Msg("ledger write failed")
		return failure(req, &ToolExecutionError{Tool: name, Err: err})
	}

	log.Info().Str("recordId", rec.ID).Str("amount", rec.Amount.StringFixed(2)).Msg("record created")
	return Result{
		CallID:   req.ID,
		Tool:     req.Name,
		OK:       true,
		RecordID: rec.ID,
		Record: &Echo{
			Kind:            rec.Kind,
			Title:           rec.Title,
			Description:     rec.Description,
			Category:        string(rec.Category),
			Amount:          rec.Amount.StringFixed(2),
			Currency:        e.currency,
			TransactionDate: rec.TransactionDate.In(e.loc).Format(time.DateOnly),
		},
	}
}

func (e *Executor) parse(ct *compiledTool, raw json.RawMessage) (finance.Fields, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return finance.Fields{}, &ValidationError{Tool: ct.name, Message: "arguments are not valid JSON"}
	}
	if err := ct.schema.Validate(doc); err != nil {
		return finance.Fields{}, schemaViolation(ct.name, err)
	}

	var args arguments
	if err := json.Unmarshal(raw, &args); err != nil {
		return finance.Fields{}, &ValidationError{Tool: ct.name, Message: err.Error()}
	}

	amount, err := decimal.NewFromString(args.Amount.String())
	if err != nil {
		return finance.Fields{}, &ValidationError{Tool: ct.name, Field: "amount", Message: "is not a number"}
	}
	if !amount.Equal(amount.Round(2)) {
		return finance.Fields{}, &ValidationError{Tool: ct.name, Field: "amount", Message: "must have at most 2 decimal places"}
	}

	date, err := ParseDate(args.TransactionDate, e.loc)
	if err != nil {
		return finance.Fields{}, &ValidationError{Tool: ct.name, Field: "transactionDate", Message: err.Error()}
	}

	f := finance.Fields{
		Title:           strings.TrimSpace(args.Title),
		Description:     strings.TrimSpace(args.Description),
		Category:        finance.Category(args.Category),
		Amount:          amount,
		TransactionDate: date,
	}
	if err := f.Check(ct.kind); err != nil {
		var re *finance.RuleError
		if errors.As(err, &re) {
			return finance.Fields{}, &ValidationError{Tool: ct.name, Field: re.Field, Message: re.Message}
		}
		return finance.Fields{}, err
	}
	return f, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"02/01/2006",
}

// ParseDate accepts RFC 3339 timestamps, YYYY-MM-DD and DD/MM/YYYY. Values
// without a zone are read in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a recognised date", s)
}
