package store

import (
	"context"

	"github.com/quantnexusai/radreport-ai/internal/report"
)

var defaultFacilities = []report.Facility{
	{
		Name:             "Main Street Imaging",
		TechniqueChest:   "Axial CT images of the chest were obtained without intravenous contrast.",
		TechniqueAbdomen: "Axial CT images of the abdomen and pelvis were obtained without intravenous contrast.",
	},
	{
		Name:             "Riverside Diagnostic Center",
		TechniqueChest:   "Helical CT of the chest was performed without contrast. Multiplanar reformats were reviewed.",
		TechniqueAbdomen: "Helical CT of the abdomen and pelvis was performed without contrast. Multiplanar reformats were reviewed.",
	},
}

var defaultTemplates = []report.Template{
	{
		Section:    report.SectionChest,
		Title:      "CT CHEST WITHOUT CONTRAST:",
		Categories: []string{"Lungs", "Heart", "Mediastinum", "Pleura", "Bones"},
		DefaultFindings: map[string]string{
			"Lungs":       "The lungs are clear without focal consolidation.",
			"Heart":       "The heart is normal in size.",
			"Mediastinum": "No mediastinal or hilar lymphadenopathy.",
			"Pleura":      "No pleural effusion or pneumothorax.",
			"Bones":       "No acute osseous abnormality.",
		},
	},
	{
		Section:    report.SectionAbdomenPelvis,
		Title:      "CT ABDOMEN AND PELVIS WITHOUT CONTRAST",
		Categories: []string{"Liver", "Gallbladder", "Pancreas", "Spleen", "Kidneys", "Bowel", "Bladder", "Bones"},
		DefaultFindings: map[string]string{
			"Liver":       "The liver is normal in size and attenuation.",
			"Gallbladder": "The gallbladder is unremarkable.",
			"Pancreas":    "The pancreas is unremarkable.",
			"Spleen":      "The spleen is normal in size.",
			"Kidneys":     "The kidneys are unremarkable without hydronephrosis.",
			"Bowel":       "No bowel obstruction or wall thickening.",
			"Bladder":     "The urinary bladder is unremarkable.",
			"Bones":       "No acute osseous abnormality.",
		},
	},
}

var defaultPatterns = []report.Pattern{
	{StudyType: report.StudyChest, Category: "Lungs", PatternText: "clear", ImpressionText: "No acute pulmonary process."},
	{StudyType: report.StudyChest, Category: "Lungs", PatternText: "clear and well expanded", ImpressionText: "Lungs well aerated, no focal process."},
	{StudyType: report.StudyChest, Category: "Pleura", PatternText: "pleural effusion", ImpressionText: "Pleural effusion; clinical correlation recommended."},
	{StudyType: report.StudyAbdomenPelvis, Category: "Kidneys", PatternText: "renal cyst", ImpressionText: "Simple renal cyst, benign; no follow-up required."},
	{StudyType: report.StudyAbdomenPelvis, Category: "Liver", PatternText: "hepatic steatosis", ImpressionText: "Hepatic steatosis."},
}

// Seed populates empty tables with the default facilities, templates, and
// starter patterns. Safe to call on every startup; tables that already have
// rows are left alone.
func (s *Store) Seed(ctx context.Context) error {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM facilities"); err != nil {
		return NewInternalError("seed: count facilities: " + err.Error())
	}
	if n == 0 {
		for _, f := range defaultFacilities {
			if _, err := s.AddFacility(ctx, f); err != nil {
				return err
			}
		}
	}

	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM report_templates"); err != nil {
		return NewInternalError("seed: count templates: " + err.Error())
	}
	if n == 0 {
		for _, tpl := range defaultTemplates {
			if err := s.UpsertTemplate(ctx, tpl); err != nil {
				return err
			}
		}
	}

	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM impression_patterns"); err != nil {
		return NewInternalError("seed: count patterns: " + err.Error())
	}
	if n == 0 {
		for _, p := range defaultPatterns {
			if _, err := s.AddPattern(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}
