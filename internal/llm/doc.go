// Package llm provides the AI categorization providers used by enrichment.
// It supports Anthropic and OpenAI, with rate limiting, bounded retries
// and per-model cost accounting.
package llm
