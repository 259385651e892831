package httpapi

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantnexusai/radreport-ai/internal/generator"
	"github.com/quantnexusai/radreport-ai/internal/metrics"
	"github.com/quantnexusai/radreport-ai/internal/report"
	"github.com/quantnexusai/radreport-ai/internal/store"
)

// ReportGenerator runs one report generation pass.
type ReportGenerator interface {
	Generate(ctx context.Context, req generator.Request) (report.GeneratedReport, error)
}

// PDFRenderer turns a report's markdown rendition into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, markdown, generatedAt string) ([]byte, error)
}

// ImpressionSuggester drafts impression text for an unmatched finding when
// the administrator promotes it without writing one.
type ImpressionSuggester interface {
	GenerateImpression(ctx context.Context, finding string, section report.Section) (string, error)
}

// Store is the persistence surface the handlers need.
type Store interface {
	ListFacilities(ctx context.Context) ([]report.Facility, error)
	TemplateForSection(ctx context.Context, sec report.Section) (report.Template, error)
	UpsertTemplate(ctx context.Context, tpl report.Template) error
	ListPatterns(ctx context.Context, study report.StudyType, category string) ([]report.Pattern, error)
	ListAllPatterns(ctx context.Context) ([]report.Pattern, error)
	AddPattern(ctx context.Context, p report.Pattern) (report.Pattern, error)
	UpdatePattern(ctx context.Context, p report.Pattern) error
	RemovePattern(ctx context.Context, id int64) error
	ListUnmatched(ctx context.Context, study report.StudyType, limit int) ([]report.UnmatchedFinding, error)
	GetUnmatched(ctx context.Context, id int64) (report.UnmatchedFinding, error)
	PromoteUnmatched(ctx context.Context, id int64, patternText, impressionText string) (report.Pattern, error)
	GetReport(ctx context.Context, id string) (report.GeneratedReport, error)
	ListReports(ctx context.Context, limit int) ([]report.GeneratedReport, error)
}

type Server struct {
	generator  ReportGenerator
	store      Store
	pdf        PDFRenderer
	suggester  ImpressionSuggester
	adminToken string
}

// NewServer wires the full HTTP surface. adminToken guards the /v1/admin
// routes; when empty the admin surface refuses every request. pdf and
// suggester may be nil, disabling the corresponding features.
func NewServer(gen ReportGenerator, st Store, pdf PDFRenderer, suggester ImpressionSuggester, adminToken string) http.Handler {
	s := &Server{
		generator:  gen,
		store:      st,
		pdf:        pdf,
		suggester:  suggester,
		adminToken: adminToken,
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	r.Get("/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/facilities", s.handleListFacilities)
		r.Get("/templates/{section}", s.handleGetTemplate)

		r.Post("/reports", s.handleGenerateReport)
		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{id}", s.handleGetReport)
		r.Get("/reports/{id}/pdf", s.handleReportPDF)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/patterns", s.handleListPatterns)
			r.Post("/patterns", s.handleAddPattern)
			r.Put("/patterns/{id}", s.handleUpdatePattern)
			r.Delete("/patterns/{id}", s.handleRemovePattern)
			r.Get("/unmatched", s.handleListUnmatched)
			r.Post("/unmatched/{id}/promote", s.handlePromoteUnmatched)
			r.Put("/templates/{section}", s.handleUpdateTemplate)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var se *store.Error
	if errors.As(err, &se) {
		writeJSON(w, se.Status, map[string]any{
			"error": map[string]any{"code": se.Code, "message": se.Message},
		})
		return
	}
	if errors.Is(err, report.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"code": store.CodeValidation, "message": err.Error()},
		})
		return
	}
	log.Printf("httpapi: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": map[string]any{"code": store.CodeInternal, "message": "internal error"},
	})
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{"code": store.CodeValidation, "message": msg},
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if s.adminToken == "" || !hmac.Equal([]byte(token), []byte(s.adminToken)) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": store.CodeUnauthorized, "message": "admin token required"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- report generation and retrieval ---

type generateRequest struct {
	Facility       string            `json:"facility"`
	StudyType      string            `json:"study_type"`
	Findings       map[string]string `json:"findings"`
	ImageBase64    string            `json:"image_base64"`
	ImageMediaType string            `json:"image_media_type"`
	ImageFilename  string            `json:"image_filename"`
}

func (s *Server) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	study, err := report.ParseStudyType(req.StudyType)
	if err != nil {
		writeError(w, err)
		return
	}
	if strings.HasSuffix(strings.ToLower(req.ImageFilename), ".dcm") ||
		strings.EqualFold(req.ImageMediaType, "application/dicom") {
		writeValidationError(w, "DICOM uploads are not supported yet")
		return
	}

	sections := map[report.Section]string{}
	for k, v := range req.Findings {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case string(report.SectionChest):
			sections[report.SectionChest] = v
		case string(report.SectionAbdomenPelvis):
			sections[report.SectionAbdomenPelvis] = v
		default:
			writeValidationError(w, fmt.Sprintf("unknown findings section %q", k))
			return
		}
	}

	rec, err := s.generator.Generate(r.Context(), generator.Request{
		Facility:       req.Facility,
		StudyType:      study,
		Sections:       sections,
		ImageB64:       req.ImageBase64,
		ImageMediaType: req.ImageMediaType,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	reports, err := s.store.ListReports(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	if s.pdf == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": map[string]any{"code": store.CodeInternal, "message": "pdf rendering not configured"},
		})
		return
	}
	rec, err := s.store.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	blob, err := s.pdf.Render(r.Context(), rec.Markdown, rec.CreatedAt.Format(time.RFC1123))
	if err != nil {
		log.Printf("httpapi: render report pdf failed id=%s err=%v", rec.ID, err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": map[string]any{"code": store.CodeInternal, "message": "pdf rendering failed"},
		})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "radiology_report_"+rec.ID+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

// --- read-only reference data ---

func (s *Server) handleListFacilities(w http.ResponseWriter, r *http.Request) {
	facilities, err := s.store.ListFacilities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facilities": facilities})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.store.TemplateForSection(r.Context(), report.Section(chi.URLParam(r, "section")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// --- admin: patterns ---

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	studyParam := r.URL.Query().Get("study_type")
	category := r.URL.Query().Get("category")

	var patterns []report.Pattern
	var err error
	if studyParam != "" && category != "" {
		var study report.StudyType
		study, err = report.ParseStudyType(studyParam)
		if err != nil {
			writeError(w, err)
			return
		}
		patterns, err = s.store.ListPatterns(r.Context(), study, category)
	} else {
		patterns, err = s.store.ListAllPatterns(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

type patternRequest struct {
	StudyType      string `json:"study_type"`
	Category       string `json:"category"`
	PatternText    string `json:"pattern_text"`
	ImpressionText string `json:"impression_text"`
}

func (s *Server) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	var req patternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	study, err := report.ParseStudyType(req.StudyType)
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.store.AddPattern(r.Context(), report.Pattern{
		StudyType:      study,
		Category:       req.Category,
		PatternText:    req.PatternText,
		ImpressionText: req.ImpressionText,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePattern(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeValidationError(w, "invalid pattern id")
		return
	}
	var req patternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	study, err := report.ParseStudyType(req.StudyType)
	if err != nil {
		writeError(w, err)
		return
	}
	p := report.Pattern{
		ID:             id,
		StudyType:      study,
		Category:       req.Category,
		PatternText:    req.PatternText,
		ImpressionText: req.ImpressionText,
	}
	if err := s.store.UpdatePattern(r.Context(), p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRemovePattern(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeValidationError(w, "invalid pattern id")
		return
	}
	if err := s.store.RemovePattern(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// --- admin: unmatched findings ---

func (s *Server) handleListUnmatched(w http.ResponseWriter, r *http.Request) {
	var study report.StudyType
	if v := r.URL.Query().Get("study_type"); v != "" {
		parsed, err := report.ParseStudyType(v)
		if err != nil {
			writeError(w, err)
			return
		}
		study = parsed
	}
	limit := parseInt(r.URL.Query().Get("limit"), 100)
	unmatched, err := s.store.ListUnmatched(r.Context(), study, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unmatched": unmatched})
}

type promoteRequest struct {
	PatternText    string `json:"pattern_text"`
	ImpressionText string `json:"impression_text"`
}

func (s *Server) handlePromoteUnmatched(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeValidationError(w, "invalid unmatched finding id")
		return
	}
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}

	if strings.TrimSpace(req.ImpressionText) == "" {
		if s.suggester == nil {
			writeValidationError(w, "impression_text is required")
			return
		}
		u, err := s.store.GetUnmatched(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		suggested, err := s.suggester.GenerateImpression(r.Context(), u.RawText, sectionForStudy(u.StudyType))
		if err != nil {
			log.Printf("httpapi: suggest impression for unmatched %d: %v", id, err)
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error": map[string]any{"code": store.CodeInternal, "message": "impression suggestion failed"},
			})
			return
		}
		req.ImpressionText = suggested
	}

	p, err := s.store.PromoteUnmatched(r.Context(), id, req.PatternText, req.ImpressionText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// --- admin: templates ---

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl report.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	tpl.Section = report.Section(chi.URLParam(r, "section"))
	if err := s.store.UpsertTemplate(r.Context(), tpl); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func sectionForStudy(study report.StudyType) report.Section {
	if study == report.StudyAbdomenPelvis {
		return report.SectionAbdomenPelvis
	}
	return report.SectionChest
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}
