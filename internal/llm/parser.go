package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-spice-must-match/internal/model"
)

// errMalformed marks provider output that could not be turned into a categorization.
var errMalformed = errors.New("malformed categorization")

type categorizationJSON struct {
	Category     string  `json:"category"`
	Subcategory  string  `json:"subcategory"`
	MerchantName string  `json:"merchant_name"`
	Confidence   float64 `json:"confidence"`
	IsEssential  *bool   `json:"is_essential"`
}

// parseCategorization extracts a categorization from the model's reply.
// Unknown categories are rejected; essential defaults to the taxonomy flag.
func parseCategorization(content string, direction model.Direction) (model.Categorization, error) {
	content = cleanMarkdownWrapper(content)

	var resp categorizationJSON
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return model.Categorization{}, fmt.Errorf("%w: %w", errMalformed, err)
	}

	resp.Category = strings.TrimSpace(resp.Category)
	if resp.Category == "" {
		return model.Categorization{}, fmt.Errorf("%w: no category found in response", errMalformed)
	}
	cat, ok := model.FindCategory(direction, resp.Category)
	if !ok {
		return model.Categorization{}, fmt.Errorf("%w: unknown category %q", errMalformed, resp.Category)
	}

	essential := cat.Essential
	if resp.IsEssential != nil {
		essential = *resp.IsEssential
	}

	confidence := resp.Confidence
	if confidence > 1 && confidence <= 100 {
		// Some models answer in percent.
		confidence /= 100
	}
	confidence = min(max(confidence, 0), 1)

	return model.Categorization{
		Category:     cat.Name,
		Subcategory:  strings.TrimSpace(resp.Subcategory),
		MerchantName: strings.TrimSpace(resp.MerchantName),
		Confidence:   confidence,
		IsEssential:  essential,
	}, nil
}

// cleanMarkdownWrapper strips ```json fences and any prose around the object.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return strings.TrimSpace(content)
}
