package report

import (
	"fmt"
	"strings"
)

// AssembleInput carries everything the assembler needs. It is a plain value;
// Assemble reads nothing else, so identical inputs yield identical output.
type AssembleInput struct {
	Facility  Facility
	StudyType StudyType
	Templates map[Section]Template

	// Findings holds the corrected finding text per category, per section.
	// Categories absent here fall back to the template default line.
	Findings map[Section]map[string]string

	// Impressions are the matched impression lines, already ordered.
	Impressions []string

	// ImageNotes, when non-empty, is appended as an IMAGE ANALYSIS NOTES block.
	ImageNotes string

	// FallbackImpression replaces an empty impression list. Empty means
	// DefaultFallbackImpression.
	FallbackImpression string
}

// Assemble produces the plain-text report: per-section title, TECHNIQUE,
// FINDINGS with every template category in template order, then a numbered
// IMPRESSION section. Pure composition; no lookup or matching happens here.
func Assemble(in AssembleInput) (string, error) {
	sections := in.StudyType.Sections()
	if len(sections) == 0 {
		return "", NewInvalidInput(fmt.Sprintf("unknown study type %q", in.StudyType))
	}

	var lines []string
	for _, sec := range sections {
		tpl, ok := in.Templates[sec]
		if !ok {
			return "", NewInvalidInput(fmt.Sprintf("no template for section %q", sec))
		}
		lines = append(lines, tpl.Title)
		lines = append(lines, "TECHNIQUE:")
		lines = append(lines, in.Facility.Technique(sec))
		lines = append(lines, "")
		lines = append(lines, "FINDINGS:")
		for _, category := range tpl.Categories {
			text := tpl.DefaultFindings[category]
			if corrected, ok := in.Findings[sec][category]; ok && strings.TrimSpace(corrected) != "" {
				text = corrected
			}
			lines = append(lines, fmt.Sprintf("%s: %s", category, text))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "IMPRESSION:")
	if len(in.Impressions) == 0 {
		fallback := in.FallbackImpression
		if fallback == "" {
			fallback = DefaultFallbackImpression
		}
		lines = append(lines, fallback)
	} else {
		for i, impression := range in.Impressions {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, impression))
		}
	}

	if strings.TrimSpace(in.ImageNotes) != "" {
		lines = append(lines, "")
		lines = append(lines, "IMAGE ANALYSIS NOTES:")
		lines = append(lines, in.ImageNotes)
	}

	return strings.Join(lines, "\n"), nil
}

// AssembleMarkdown renders the same report as markdown for the PDF pipeline.
// It carries the same determinism guarantee as Assemble.
func AssembleMarkdown(in AssembleInput) (string, error) {
	sections := in.StudyType.Sections()
	if len(sections) == 0 {
		return "", NewInvalidInput(fmt.Sprintf("unknown study type %q", in.StudyType))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Radiology Report: %s\n\n", in.StudyType)
	fmt.Fprintf(&b, "**Facility:** %s\n\n", in.Facility.Name)

	for _, sec := range sections {
		tpl, ok := in.Templates[sec]
		if !ok {
			return "", NewInvalidInput(fmt.Sprintf("no template for section %q", sec))
		}
		fmt.Fprintf(&b, "## %s\n\n", strings.TrimSuffix(tpl.Title, ":"))
		fmt.Fprintf(&b, "**TECHNIQUE:** %s\n\n", in.Facility.Technique(sec))
		b.WriteString("**FINDINGS:**\n\n")
		for _, category := range tpl.Categories {
			text := tpl.DefaultFindings[category]
			if corrected, ok := in.Findings[sec][category]; ok && strings.TrimSpace(corrected) != "" {
				text = corrected
			}
			fmt.Fprintf(&b, "- **%s:** %s\n", category, text)
		}
		b.WriteString("\n")
	}

	b.WriteString("## IMPRESSION\n\n")
	if len(in.Impressions) == 0 {
		fallback := in.FallbackImpression
		if fallback == "" {
			fallback = DefaultFallbackImpression
		}
		fmt.Fprintf(&b, "%s\n", fallback)
	} else {
		for i, impression := range in.Impressions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, impression)
		}
	}

	if strings.TrimSpace(in.ImageNotes) != "" {
		b.WriteString("\n## IMAGE ANALYSIS NOTES\n\n")
		fmt.Fprintf(&b, "%s\n", in.ImageNotes)
	}

	return b.String(), nil
}
