package report

import (
	"fmt"
	"strings"
	"time"
)

// StudyType identifies the kind of CT study a report covers.
type StudyType string

const (
	StudyChest         StudyType = "Chest"
	StudyAbdomenPelvis StudyType = "Abdomen and Pelvis"
	StudyFullBody      StudyType = "Full Body"
)

// Section is a report section; Full Body studies span both.
type Section string

const (
	SectionChest         Section = "chest"
	SectionAbdomenPelvis Section = "abdomen_pelvis"
)

// DefaultFallbackImpression is printed when no finding matched any pattern.
const DefaultFallbackImpression = "Unremarkable exam."

// ParseStudyType accepts the canonical study type labels, ignoring case.
func ParseStudyType(s string) (StudyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chest":
		return StudyChest, nil
	case "abdomen and pelvis", "abdomen_pelvis":
		return StudyAbdomenPelvis, nil
	case "full body", "full_body":
		return StudyFullBody, nil
	}
	return "", NewInvalidInput(fmt.Sprintf("unknown study type %q", s))
}

// Sections returns the report sections for the study type, in report order.
func (st StudyType) Sections() []Section {
	switch st {
	case StudyChest:
		return []Section{SectionChest}
	case StudyAbdomenPelvis:
		return []Section{SectionAbdomenPelvis}
	case StudyFullBody:
		return []Section{SectionChest, SectionAbdomenPelvis}
	}
	return nil
}

// Pattern maps a finding fragment to canned impression text. Patterns are
// administrator-curated and scoped to one (study type, category) pair.
type Pattern struct {
	ID             int64     `db:"id" json:"id"`
	StudyType      StudyType `db:"study_type" json:"study_type"`
	Category       string    `db:"category" json:"category"`
	PatternText    string    `db:"pattern_text" json:"pattern_text"`
	ImpressionText string    `db:"impression_text" json:"impression_text"`
	CreatedAt      time.Time `db:"-" json:"created_at"`
}

// Finding is one corrected radiologist observation assigned to a category.
type Finding struct {
	Category string `json:"category"`
	RawText  string `json:"raw_text"`
}

// UnmatchedFinding records a finding that matched no pattern, kept for
// administrator review and optional promotion into a new Pattern.
type UnmatchedFinding struct {
	ID        int64     `db:"id" json:"id"`
	StudyType StudyType `db:"study_type" json:"study_type"`
	Category  string    `db:"category" json:"category"`
	RawText   string    `db:"finding" json:"raw_text"`
	Resolved  bool      `db:"-" json:"resolved"`
	CreatedAt time.Time `db:"-" json:"created_at"`
}

// Template describes one report section: its printed title, the ordered
// anatomical categories, and the default line per category.
type Template struct {
	Section         Section           `json:"section"`
	Title           string            `json:"title"`
	Categories      []string          `json:"categories"`
	DefaultFindings map[string]string `json:"default_findings"`
}

// Facility carries the per-site technique boilerplate.
type Facility struct {
	ID               int64  `db:"id" json:"id"`
	Name             string `db:"name" json:"name"`
	TechniqueChest   string `db:"technique_chest" json:"technique_chest"`
	TechniqueAbdomen string `db:"technique_abdomen" json:"technique_abdomen"`
}

// Technique returns the facility boilerplate for a section.
func (f Facility) Technique(sec Section) string {
	if sec == SectionChest {
		return f.TechniqueChest
	}
	return f.TechniqueAbdomen
}

// GeneratedReport is a persisted, fully assembled report.
type GeneratedReport struct {
	ID             string    `db:"id" json:"id"`
	Facility       string    `db:"facility" json:"facility"`
	StudyType      StudyType `db:"study_type" json:"study_type"`
	Body           string    `db:"body" json:"body"`
	Markdown       string    `db:"markdown" json:"markdown"`
	UnmatchedCount int       `db:"unmatched_count" json:"unmatched_count"`
	CreatedAt      time.Time `db:"-" json:"created_at"`
}
