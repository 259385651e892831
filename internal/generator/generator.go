package generator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/quantnexusai/radreport-ai/internal/metrics"
	"github.com/quantnexusai/radreport-ai/internal/report"
)

// Store is the persistence surface the generator depends on.
type Store interface {
	FacilityByName(ctx context.Context, name string) (report.Facility, error)
	TemplateForSection(ctx context.Context, sec report.Section) (report.Template, error)
	ListPatterns(ctx context.Context, study report.StudyType, category string) ([]report.Pattern, error)
	RecordUnmatched(ctx context.Context, study report.StudyType, category, finding string) (report.UnmatchedFinding, error)
	SaveReport(ctx context.Context, r report.GeneratedReport) error
}

// Corrector normalizes raw radiologist shorthand into corrected sentences,
// one finding per line.
type Corrector interface {
	CorrectFindings(ctx context.Context, raw string, section report.Section) (string, error)
}

// ImageAnalyzer produces supplementary observations from an uploaded image.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, imageB64, mediaType string, study report.StudyType) (string, error)
}

// Categorizer assigns corrected finding lines that name no category
// themselves to one of the template categories. Optional.
type Categorizer interface {
	CategorizeFindings(ctx context.Context, findings, categories []string, section report.Section) (map[string]string, error)
}

// Request is one report generation submission.
type Request struct {
	Facility       string                     `json:"facility"`
	StudyType      report.StudyType           `json:"study_type"`
	Sections       map[report.Section]string  `json:"findings"`
	ImageB64       string                     `json:"image_base64,omitempty"`
	ImageMediaType string                     `json:"image_media_type,omitempty"`
}

type Config struct {
	// FallbackImpression is printed when nothing matched. Empty means
	// report.DefaultFallbackImpression.
	FallbackImpression string
	// CacheTTL bounds how long facility and template reads are served from
	// memory. Zero disables caching.
	CacheTTL time.Duration
}

// Generator runs the full pipeline: correct findings, assign categories,
// match patterns, log misses, assemble, persist.
type Generator struct {
	store       Store
	corrector   Corrector
	analyzer    ImageAnalyzer
	categorizer Categorizer
	cache       *gocache.Cache
	fallback    string
}

func New(store Store, corrector Corrector, analyzer ImageAnalyzer, categorizer Categorizer, cfg Config) *Generator {
	var cache *gocache.Cache
	if cfg.CacheTTL > 0 {
		cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return &Generator{
		store:       store,
		corrector:   corrector,
		analyzer:    analyzer,
		categorizer: categorizer,
		cache:       cache,
		fallback:    cfg.FallbackImpression,
	}
}

// Generate produces, persists, and returns one report. Each call is a single
// synchronous pass; the only shared state is the store.
func (g *Generator) Generate(ctx context.Context, req Request) (report.GeneratedReport, error) {
	if len(req.StudyType.Sections()) == 0 {
		return report.GeneratedReport{}, report.NewInvalidInput(fmt.Sprintf("unknown study type %q", req.StudyType))
	}
	if strings.TrimSpace(req.Facility) == "" {
		return report.GeneratedReport{}, report.NewInvalidInput("facility is required")
	}

	facility, err := g.facility(ctx, req.Facility)
	if err != nil {
		return report.GeneratedReport{}, err
	}

	templates := map[report.Section]report.Template{}
	for _, sec := range req.StudyType.Sections() {
		tpl, err := g.template(ctx, sec)
		if err != nil {
			return report.GeneratedReport{}, err
		}
		templates[sec] = tpl
	}

	findings := map[report.Section]map[string]string{}
	var impressions []string
	unmatched := 0

	for _, sec := range req.StudyType.Sections() {
		raw := strings.TrimSpace(req.Sections[sec])
		if raw == "" {
			continue
		}
		corrected, err := g.corrector.CorrectFindings(ctx, raw, sec)
		if err != nil {
			return report.GeneratedReport{}, fmt.Errorf("correct findings for %s: %w", sec, err)
		}

		tpl := templates[sec]
		byCategory := g.assignCategories(ctx, splitLines(corrected), tpl, sec)

		sectionFindings := map[string]string{}
		for _, category := range tpl.Categories {
			lines := byCategory[category]
			if len(lines) == 0 {
				continue
			}
			sectionFindings[category] = strings.Join(lines, " ")
			for _, line := range lines {
				patterns, err := g.store.ListPatterns(ctx, req.StudyType, category)
				if err != nil {
					return report.GeneratedReport{}, err
				}
				m, ok, err := report.MatchFinding(patterns, line)
				if err != nil {
					return report.GeneratedReport{}, err
				}
				if ok {
					impressions = append(impressions, m.Impression)
					metrics.RecordImpressionMatched()
					continue
				}
				unmatched++
				metrics.RecordUnmatchedFinding()
				// The matcher stays persistence-free; recording the miss is
				// this pipeline's obligation. A failed write must not sink
				// the report.
				if _, err := g.store.RecordUnmatched(ctx, req.StudyType, category, line); err != nil {
					log.Printf("generator: record unmatched finding: %v", err)
				}
			}
		}
		findings[sec] = sectionFindings
	}

	imageNotes := ""
	if req.ImageB64 != "" && g.analyzer != nil {
		imageNotes, err = g.analyzer.AnalyzeImage(ctx, req.ImageB64, req.ImageMediaType, req.StudyType)
		if err != nil {
			return report.GeneratedReport{}, fmt.Errorf("analyze image: %w", err)
		}
	}

	in := report.AssembleInput{
		Facility:           facility,
		StudyType:          req.StudyType,
		Templates:          templates,
		Findings:           findings,
		Impressions:        impressions,
		ImageNotes:         imageNotes,
		FallbackImpression: g.fallback,
	}
	body, err := report.Assemble(in)
	if err != nil {
		return report.GeneratedReport{}, err
	}
	markdown, err := report.AssembleMarkdown(in)
	if err != nil {
		return report.GeneratedReport{}, err
	}

	rec := report.GeneratedReport{
		ID:             uuid.NewString(),
		Facility:       facility.Name,
		StudyType:      req.StudyType,
		Body:           body,
		Markdown:       markdown,
		UnmatchedCount: unmatched,
		CreatedAt:      time.Now().UTC(),
	}
	if err := g.store.SaveReport(ctx, rec); err != nil {
		return report.GeneratedReport{}, err
	}
	metrics.RecordReportGenerated(string(req.StudyType))
	return rec, nil
}

// assignCategories maps corrected finding lines to template categories.
// First pass is category-name containment; leftovers go through the LLM
// categorizer when one is wired. Lines that still resolve to no category are
// dropped with a log line.
func (g *Generator) assignCategories(ctx context.Context, lines []string, tpl report.Template, sec report.Section) map[string][]string {
	byCategory := map[string][]string{}
	var leftovers []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		assigned := false
		for _, category := range tpl.Categories {
			if strings.Contains(lower, strings.ToLower(category)) {
				byCategory[category] = append(byCategory[category], line)
				assigned = true
				break
			}
		}
		if !assigned {
			leftovers = append(leftovers, line)
		}
	}
	if len(leftovers) > 0 && g.categorizer != nil {
		mapped, err := g.categorizer.CategorizeFindings(ctx, leftovers, tpl.Categories, sec)
		if err != nil {
			log.Printf("generator: categorize findings: %v", err)
		} else {
			remaining := leftovers[:0]
			for _, line := range leftovers {
				if category, ok := mapped[line]; ok {
					byCategory[category] = append(byCategory[category], line)
				} else {
					remaining = append(remaining, line)
				}
			}
			leftovers = remaining
		}
	}
	for _, line := range leftovers {
		log.Printf("generator: finding matched no category in %s, skipped: %q", sec, line)
	}
	return byCategory
}

// facility and template reads are hot on every generation; serve them from a
// TTL cache when configured.
func (g *Generator) facility(ctx context.Context, name string) (report.Facility, error) {
	key := "facility:" + name
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			return v.(report.Facility), nil
		}
	}
	f, err := g.store.FacilityByName(ctx, name)
	if err != nil {
		return report.Facility{}, err
	}
	if g.cache != nil {
		g.cache.SetDefault(key, f)
	}
	return f, nil
}

func (g *Generator) template(ctx context.Context, sec report.Section) (report.Template, error) {
	key := "template:" + string(sec)
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			return v.(report.Template), nil
		}
	}
	tpl, err := g.store.TemplateForSection(ctx, sec)
	if err != nil {
		return report.Template{}, err
	}
	if g.cache != nil {
		g.cache.SetDefault(key, tpl)
	}
	return tpl, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
