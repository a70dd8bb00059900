// Package enrichment drives AI categorization of bank transactions with a
// content-addressed result cache and durable failure tracking.
package enrichment

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/Veraticus/the-spice-must-match/internal/model"
)

// Fingerprint derives the cache key for a description in one direction under
// one provider and model. Income and expense are categorized against
// different taxonomies, so the same description gets a key per direction.
// Descriptions that differ only in case, digits or punctuation share a key,
// so "SQ *BLUE BOTTLE 0412" and "SQ *Blue Bottle 0519" hit the same entry.
func Fingerprint(description string, direction model.Direction, provider, modelName string) string {
	h := sha256.New()
	h.Write([]byte(direction))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(provider)))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(modelName)))
	h.Write([]byte{'|'})
	h.Write([]byte(normalizeDescription(description)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeDescription lowercases s, drops digits and punctuation, and
// collapses whitespace.
func normalizeDescription(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r):
			if space && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			space = false
			sb.WriteRune(r)
		default:
			space = true
		}
	}
	return sb.String()
}
