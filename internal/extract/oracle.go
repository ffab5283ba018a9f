package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/resilience"
	"github.com/sells-group/invoice-cli/pkg/anthropic"
)

// Oracle turns invoice text into raw field values.
type Oracle interface {
	ExtractFields(ctx context.Context, text string) (*OracleFields, error)
}

// OracleFields are the values an oracle read from the document. Amounts
// are kept as text so symbol stripping can be detected.
type OracleFields struct {
	VendorName    string   `json:"vendor_name"`
	InvoiceNumber string   `json:"invoice_number"`
	InvoiceDate   string   `json:"invoice_date"`
	TotalAmount   flexText `json:"total_amount"`
	TaxAmount     flexText `json:"tax_amount,omitempty"`
	PONumber      string   `json:"po_number,omitempty"`
}

// flexText accepts a JSON string, number or null.
type flexText string

func (f *flexText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return eris.Wrapf(err, "extract: amount %s", string(b))
	}
	*f = flexText(n.String())
	return nil
}

const oracleSystemPrompt = `You extract fields from invoice text.
Return only a JSON object with these keys:
  vendor_name, invoice_number, invoice_date (YYYY-MM-DD), total_amount, tax_amount, po_number.
Use an empty string for any field that is not present. Amounts must be plain numbers without currency symbols.`

// LLMOracle extracts fields with a Claude model. Calls are rate limited and
// guarded by a circuit breaker.
type LLMOracle struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
}

// NewLLMOracle creates an LLMOracle from the anthropic config.
func NewLLMOracle(client anthropic.Client, cfg config.AnthropicConfig, breaker *resilience.CircuitBreaker) *LLMOracle {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if breaker == nil {
		cb := resilience.DefaultCircuitBreakerConfig()
		cb.Name = "anthropic"
		breaker = resilience.NewCircuitBreaker(cb)
	}
	return &LLMOracle{
		client:    client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		limiter:   rate.NewLimiter(limit, 1),
		breaker:   breaker,
	}
}

// ExtractFields sends the text to the model and parses its JSON reply.
// Retryable API failures come back as resilience.TransientError.
func (o *LLMOracle) ExtractFields(ctx context.Context, text string) (*OracleFields, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: oracle rate limit")
	}

	temp := 0.0
	resp, err := resilience.ExecuteVal(ctx, o.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       o.model,
			MaxTokens:   o.maxTokens,
			System:      anthropic.CachedSystem(oracleSystemPrompt),
			Messages:    []anthropic.Message{{Role: "user", Content: text}},
			Temperature: &temp,
		})
		if err != nil && anthropic.IsRetryable(err) {
			return nil, resilience.NewTransientError(err, anthropic.StatusCode(err))
		}
		return resp, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: oracle call")
	}
	resp.Usage.LogCost(o.model, "extraction")

	raw := cleanJSON(resp.Text())
	var fields OracleFields
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		zap.L().Debug("extract: unparsable oracle reply", zap.String("reply", resp.Text()))
		return nil, eris.Wrap(err, "extract: parse oracle reply")
	}
	return &fields, nil
}

// cleanJSON strips markdown fences and surrounding prose from a model reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
