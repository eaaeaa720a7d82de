package textutil

import (
	"math"
	"testing"
)

func TestCosineSimilarityNil(t *testing.T) {
	tests := []struct {
		name string
		a    *TermVector
		b    *TermVector
	}{
		{"both nil", nil, nil},
		{"a nil", nil, NewTermVector("hello world")},
		{"b nil", NewTermVector("hello world"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); got != 0 {
				t.Errorf("CosineSimilarity() = %v, want 0", got)
			}
		})
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	text := "Central bank raises interest rates again"
	got := CosineSimilarity(NewTermVector(text), NewTermVector(text))
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("CosineSimilarity(identical) = %v, want 1.0", got)
	}
}

func TestCosineSimilarityDisjoint(t *testing.T) {
	got := CosineSimilarity(NewTermVector("apple banana cherry"), NewTermVector("dog elephant frog"))
	if got != 0 {
		t.Errorf("CosineSimilarity(disjoint) = %v, want 0", got)
	}
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	got := Tokenize("AI is on the Rise, U.S. says")
	want := []string{"the", "rise", "says"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize() = %v, want %v", got, want)
		}
	}
}

func TestRankPrefersRelevantDocument(t *testing.T) {
	docs := []string{
		"Local team wins the football derby",
		"Solar storm disrupts satellites and power grids",
		"Storm season forecast for the coast",
	}
	order := Rank("solar storm satellites", docs)
	if order[0] != 1 {
		t.Fatalf("Rank() = %v, want document 1 first", order)
	}
	if len(order) != len(docs) {
		t.Fatalf("Rank() returned %d indexes", len(order))
	}
}

func TestRankKeepsInputOrderOnTies(t *testing.T) {
	order := Rank("volcano", []string{"first story", "second story"})
	if order[0] != 0 || order[1] != 1 {
		t.Fatalf("Rank() = %v, want [0 1]", order)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"u:3f2a9c":  "u-3f2a9c",
		"T:ABC":     "t-abc",
		"  ":        "unknown",
		"::":        "unknown",
		"run_01-ok": "run_01-ok",
	}
	for in, want := range tests {
		if got := SafeName(in); got != want {
			t.Errorf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("Truncate kept-length = %q", got)
	}
	got := Truncate("The quick brown fox jumps over the lazy dog", 20)
	if got != "The quick brown fox…" {
		t.Fatalf("Truncate() = %q", got)
	}
}

func TestCollapseSpace(t *testing.T) {
	if got := CollapseSpace("  a \n\t b  c "); got != "a b c" {
		t.Fatalf("CollapseSpace() = %q", got)
	}
}
