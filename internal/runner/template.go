package runner

import (
	"strings"

	"researchdesk/internal/store"
)

// scoreDirective is appended to every agent's instructions after placeholder
// substitution. The score extractor depends on this exact contract.
const scoreDirective = "\nAlways begin your response with a Fundamental Score and Conviction Score on the first line in this exact format:\n" +
	"{FundamentalScore: X, ConvictionScore: Y}\n" +
	"Fundamental Score = -3 (terrible) to +3 (absolutely great)\n" +
	"Conviction Score = 0 (low confidence) to 5 (very high confidence)\n" +
	"On the very next line, state the investment decision: BUY, SELL, or HOLD - based on the scores above.\n" +
	"Ensure both scores and the decision are always present and formatted exactly as shown."

// renderTemplate substitutes the literal placeholder tokens with subject
// values. Absent values substitute as empty strings; no other templating
// syntax is supported.
func renderTemplate(s string, subj store.Subject) string {
	if s == "" {
		return s
	}
	return strings.NewReplacer(
		"{{ticker}}", subj.Ticker,
		"{{figi}}", subj.FIGI,
		"{{name}}", subj.Name,
	).Replace(s)
}

// augmentInstructions renders the instructions template and appends the fixed
// score directive.
func augmentInstructions(instructions string, subj store.Subject) string {
	return renderTemplate(instructions, subj) + scoreDirective
}
