package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-match/internal/model"
)

const systemPrompt = "You are a financial transaction categorizer. You MUST respond with ONLY a valid JSON object. " +
	"Do not include explanatory text or markdown. Start your response with { and end with }."

// buildPrompt renders the user prompt for req with the taxonomy for its direction.
func buildPrompt(req Request) string {
	var sb strings.Builder

	kind := "expense"
	if req.Direction == model.DirectionIn {
		kind = "income"
	}

	fmt.Fprintf(&sb, "Categorize this bank %s transaction.\n\n", kind)
	fmt.Fprintf(&sb, "Bank description: %s\n", req.Description)
	if !req.Amount.IsZero() {
		fmt.Fprintf(&sb, "Amount: %s\n", req.Amount.Abs().StringFixed(2))
	}
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		// A matched order or receipt says more than the bank's terse text.
		fmt.Fprintf(&sb, "Matched record (prefer this over the bank description): %s\n", ctx)
	}

	sb.WriteString("\nChoose exactly one category and one of its subcategories:\n")
	for _, c := range model.Taxonomy(req.Direction) {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", c.Name, c.Description, strings.Join(c.Subcategories, ", "))
	}

	sb.WriteString(`
Respond with JSON in exactly this shape:
{"category": "<category>", "subcategory": "<subcategory>", "merchant_name": "<clean merchant name>", "confidence": <0.0-1.0>, "is_essential": <true|false>}
`)
	return sb.String()
}
