package report

import (
	"errors"
	"testing"
)

func chestLungPatterns() []Pattern {
	return []Pattern{
		{ID: 1, StudyType: StudyChest, Category: "Lungs", PatternText: "clear", ImpressionText: "No acute pulmonary process."},
		{ID: 2, StudyType: StudyChest, Category: "Lungs", PatternText: "clear and well expanded", ImpressionText: "Lungs well aerated, no focal process."},
	}
}

func TestMatchFindingLongestWins(t *testing.T) {
	m, ok, err := MatchFinding(chestLungPatterns(), "Lungs are clear and well expanded")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Impression != "Lungs well aerated, no focal process." {
		t.Fatalf("longest pattern should win, got %q", m.Impression)
	}
}

func TestMatchFindingShorterPatternStillMatches(t *testing.T) {
	m, ok, err := MatchFinding(chestLungPatterns(), "The lungs are clear.")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Impression != "No acute pulmonary process." {
		t.Fatalf("got %q", m.Impression)
	}
}

func TestMatchFindingNoMatch(t *testing.T) {
	m, ok, err := MatchFinding(chestLungPatterns(), "Nodule in right upper lobe")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if ok {
		t.Fatalf("expected no match, got %q", m.Impression)
	}
}

func TestMatchFindingEmptyPatternsNoMatch(t *testing.T) {
	_, ok, err := MatchFinding(nil, "Lungs are clear")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if ok {
		t.Fatal("expected no match against an empty pattern list")
	}
}

func TestMatchFindingEmptyFindingInvalid(t *testing.T) {
	for _, finding := range []string{"", "   ", "\n\t"} {
		_, _, err := MatchFinding(chestLungPatterns(), finding)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("finding %q: expected ErrInvalidInput, got %v", finding, err)
		}
	}
}

func TestMatchFindingCaseInsensitive(t *testing.T) {
	patterns := []Pattern{
		{ID: 1, PatternText: "Pleural Effusion", ImpressionText: "Pleural effusion."},
	}
	m, ok, err := MatchFinding(patterns, "small left PLEURAL EFFUSION noted")
	if err != nil || !ok {
		t.Fatalf("expected case-insensitive match, ok=%v err=%v", ok, err)
	}
	if m.Pattern.ID != 1 {
		t.Fatalf("got pattern %d", m.Pattern.ID)
	}
}

func TestMatchFindingEqualLengthTieBreaksToNewest(t *testing.T) {
	// Same length, both contained; the later insertion must win.
	patterns := []Pattern{
		{ID: 1, PatternText: "calcified granuloma", ImpressionText: "old"},
		{ID: 2, PatternText: "granuloma calcified", ImpressionText: "new"},
	}
	m, ok, err := MatchFinding(patterns, "calcified granuloma and granuloma calcified both described")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if m.Impression != "new" {
		t.Fatalf("tie should break to the most recently added pattern, got %q", m.Impression)
	}
}

func TestMatchFindingIgnoresEmptyPatternText(t *testing.T) {
	patterns := []Pattern{
		{ID: 1, PatternText: "   ", ImpressionText: "never"},
		{ID: 2, PatternText: "steatosis", ImpressionText: "Hepatic steatosis."},
	}
	m, ok, err := MatchFinding(patterns, "diffuse hepatic steatosis")
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if m.Impression != "Hepatic steatosis." {
		t.Fatalf("got %q", m.Impression)
	}
}
