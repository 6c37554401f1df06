package estimate

import (
	"fmt"
	"strings"

	"github.com/sells-group/estimator/internal/model"
)

// PromptConfig holds the business context given to the model.
type PromptConfig struct {
	BusinessName string
	PricingNotes string
	ServiceArea  []string
}

// SystemPrompt builds the instruction block. It is identical across
// requests so it can sit behind a prompt-cache breakpoint.
func SystemPrompt(cfg PromptConfig) string {
	name := cfg.BusinessName
	if name == "" {
		name = "our company"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You prepare instant ballpark quotes for %s.\n", name)
	b.WriteString("A customer describes a job and may attach photos. Estimate a fair price range.\n\n")

	if len(cfg.ServiceArea) > 0 {
		fmt.Fprintf(&b, "We serve ZIP codes starting with: %s.\n\n", strings.Join(cfg.ServiceArea, ", "))
	}
	if notes := strings.TrimSpace(cfg.PricingNotes); notes != "" {
		b.WriteString("Pricing guidance:\n")
		b.WriteString(notes)
		b.WriteString("\n\n")
	}

	b.WriteString(`Reply with one short friendly sentence for the customer, then a fenced json block:

` + "```json" + `
{
  "customer_line": "one sentence shown to the customer",
  "price_low": 0,
  "price_high": 0,
  "currency": "USD",
  "line_items": [{"item": "", "quantity": 1, "price": 0}],
  "confidence": "low|medium|high",
  "notes": "assumptions and anything to confirm on site"
}
` + "```" + `

Never promise a final price. If the photos or description are unclear, widen the range and say so in notes.`)
	return b.String()
}

// UserPrompt renders the customer's request.
func UserPrompt(req model.QuoteRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ZIP code: %s\n", req.Zip)
	fmt.Fprintf(&b, "Photos attached: %d\n\n", len(req.ImageURLs))
	b.WriteString("Job description:\n")
	b.WriteString(req.Description)
	return b.String()
}
