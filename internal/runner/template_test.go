package runner

import (
	"strings"
	"testing"

	"researchdesk/internal/store"
)

func TestRenderTemplate(t *testing.T) {
	subj := store.Subject{FIGI: "BBG000B9XRY4", Ticker: "AAPL", Name: "Apple Inc"}

	got := renderTemplate("https://api.example.com/research/{{ticker}}?figi={{figi}}", subj)
	want := "https://api.example.com/research/AAPL?figi=BBG000B9XRY4"
	if got != want {
		t.Fatalf("renderTemplate = %q, want %q", got, want)
	}
}

func TestRenderTemplateMissingValues(t *testing.T) {
	got := renderTemplate("{{ticker}}/{{figi}}/{{name}}", store.Subject{Ticker: "MSFT"})
	if got != "MSFT//" {
		t.Fatalf("renderTemplate = %q, want %q", got, "MSFT//")
	}
}

func TestRenderTemplateIgnoresUnknownTokens(t *testing.T) {
	got := renderTemplate("{{isin}} and {{ticker}}", store.Subject{Ticker: "IBM"})
	if got != "{{isin}} and IBM" {
		t.Fatalf("renderTemplate = %q", got)
	}
}

func TestAugmentInstructions(t *testing.T) {
	subj := store.Subject{Ticker: "NVDA", Name: "NVIDIA Corp"}
	got := augmentInstructions("Analyze {{name}} ({{ticker}}).", subj)

	if !strings.HasPrefix(got, "Analyze NVIDIA Corp (NVDA).") {
		t.Fatalf("instructions not rendered: %q", got)
	}
	if !strings.Contains(got, "{FundamentalScore: X, ConvictionScore: Y}") {
		t.Fatalf("score directive missing from instructions: %q", got)
	}
}
