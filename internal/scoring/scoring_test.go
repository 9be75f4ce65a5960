package scoring

import "testing"

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Pair
		ok   bool
	}{
		{"plain", "{FundamentalScore: 2, ConvictionScore: 4}", Pair{2, 4}, true},
		{"negative fundamental", "{FundamentalScore: -3, ConvictionScore: 1}", Pair{-3, 1}, true},
		{"no spaces", "{FundamentalScore:1,ConvictionScore:5}", Pair{1, 5}, true},
		{"embedded in prose", "Summary first.\n{FundamentalScore: 0, ConvictionScore: 2}\nBUY", Pair{0, 2}, true},
		{"first match wins", "{FundamentalScore: 1, ConvictionScore: 1} then {FundamentalScore: 3, ConvictionScore: 3}", Pair{1, 1}, true},
		{"negative conviction rejected", "{FundamentalScore: 1, ConvictionScore: -2}", Pair{}, false},
		{"missing braces", "FundamentalScore: 1, ConvictionScore: 2", Pair{}, false},
		{"empty", "", Pair{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Extract(tc.text)
			if ok != tc.ok {
				t.Fatalf("Extract(%q) ok = %v, want %v", tc.text, ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("Extract(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}

func TestAverage(t *testing.T) {
	cases := []struct {
		name  string
		pairs []Pair
		want  Pair
		ok    bool
	}{
		{"empty", nil, Pair{}, false},
		{"single", []Pair{{2, 3}}, Pair{2, 3}, true},
		{"exact mean", []Pair{{1, 2}, {3, 4}}, Pair{2, 3}, true},
		{"half rounds away from zero", []Pair{{1, 2}, {2, 3}}, Pair{2, 3}, true},
		{"negative half rounds away from zero", []Pair{{-1, 0}, {-2, 1}}, Pair{-2, 1}, true},
		{"mixed signs", []Pair{{-3, 5}, {3, 0}}, Pair{0, 3}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Average(tc.pairs)
			if ok != tc.ok {
				t.Fatalf("Average ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Errorf("Average(%v) = %+v, want %+v", tc.pairs, got, tc.want)
			}
		})
	}
}
