// Package provider abstracts the LLM completion service the run pipeline
// posts responses to.
package provider

import (
	"context"
	"fmt"

	"researchdesk/config"
	openai_provider "researchdesk/provider/openai"
)

// Completer issues a single blocking chat completion. No streaming contract
// is required by the pipeline.
type Completer interface {
	Complete(ctx context.Context, model, systemMessage, userMessage string) (string, error)
}

// New builds a Completer from the configured providers. Only the openai
// provider type is currently supported.
func New(cfg config.LLMConfig) (Completer, error) {
	for name, p := range cfg.Providers {
		switch p.Type {
		case "openai":
			if p.APIKey == "" {
				return nil, fmt.Errorf("llm provider %q: api_key is required", name)
			}
			return openai_provider.NewClient(p.APIKey, p.BaseURL, p.Temperature, p.MaxTokens, p.Timeout), nil
		default:
			return nil, fmt.Errorf("llm provider %q: unknown type %q", name, p.Type)
		}
	}
	return nil, fmt.Errorf("no llm providers configured")
}
