// Package scoring owns the analyst score pair: the wire format the LLM is
// required to emit, its extraction from free text, and the two-level
// aggregation of section and page scores.
package scoring

import (
	"math"
	"regexp"
	"strconv"
)

// Pair is a (fundamental, conviction) score tuple. Fundamental ranges -3..+3,
// conviction 0..5.
type Pair struct {
	Fundamental int
	Conviction  int
}

// scorePattern matches the first line the LLM is instructed to emit, e.g.
// {FundamentalScore: -2, ConvictionScore: 3}. There is no versioning field;
// format changes are breaking.
var scorePattern = regexp.MustCompile(`\{FundamentalScore:\s*(-?\d+),\s*ConvictionScore:\s*(\d+)\}`)

// Extract parses a score pair out of free text. The second return is false
// when no pair is present; callers treat that as "no score", never as an
// error.
func Extract(text string) (Pair, bool) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return Pair{}, false
	}
	fundamental, err := strconv.Atoi(m[1])
	if err != nil {
		return Pair{}, false
	}
	conviction, err := strconv.Atoi(m[2])
	if err != nil {
		return Pair{}, false
	}
	return Pair{Fundamental: fundamental, Conviction: conviction}, true
}

// Average computes the component-wise arithmetic mean of the given pairs,
// rounding half away from zero. The second return is false when there are no
// contributing pairs; a level's score is null iff it has zero contributors.
func Average(pairs []Pair) (Pair, bool) {
	if len(pairs) == 0 {
		return Pair{}, false
	}
	var sumFund, sumConv float64
	for _, p := range pairs {
		sumFund += float64(p.Fundamental)
		sumConv += float64(p.Conviction)
	}
	n := float64(len(pairs))
	return Pair{
		Fundamental: int(math.Round(sumFund / n)),
		Conviction:  int(math.Round(sumConv / n)),
	}, true
}
