package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quantnexusai/radreport-ai/internal/generator"
	"github.com/quantnexusai/radreport-ai/internal/report"
	"github.com/quantnexusai/radreport-ai/internal/store"
)

type fakeGenerator struct {
	lastReq generator.Request
	rec     report.GeneratedReport
	err     error
}

func (g *fakeGenerator) Generate(_ context.Context, req generator.Request) (report.GeneratedReport, error) {
	g.lastReq = req
	if g.err != nil {
		return report.GeneratedReport{}, g.err
	}
	return g.rec, nil
}

type fakeSuggester struct {
	impression string
	calls      int
}

func (s *fakeSuggester) GenerateImpression(context.Context, string, report.Section) (string, error) {
	s.calls++
	return s.impression, nil
}

type fakeHTTPStore struct {
	patterns  []report.Pattern
	unmatched map[int64]report.UnmatchedFinding
	promoted  []report.Pattern
	reports   map[string]report.GeneratedReport

	addErr error
}

func newFakeHTTPStore() *fakeHTTPStore {
	return &fakeHTTPStore{
		unmatched: map[int64]report.UnmatchedFinding{},
		reports:   map[string]report.GeneratedReport{},
	}
}

func (s *fakeHTTPStore) ListFacilities(context.Context) ([]report.Facility, error) {
	return []report.Facility{{ID: 1, Name: "Main Street Imaging"}}, nil
}

func (s *fakeHTTPStore) TemplateForSection(_ context.Context, sec report.Section) (report.Template, error) {
	if sec != report.SectionChest {
		return report.Template{}, store.NewNotFoundError("no template for section " + string(sec))
	}
	return report.Template{Section: sec, Title: "CT CHEST WITHOUT CONTRAST:", Categories: []string{"Lungs"}}, nil
}

func (s *fakeHTTPStore) UpsertTemplate(context.Context, report.Template) error { return nil }

func (s *fakeHTTPStore) ListPatterns(context.Context, report.StudyType, string) ([]report.Pattern, error) {
	return s.patterns, nil
}

func (s *fakeHTTPStore) ListAllPatterns(context.Context) ([]report.Pattern, error) {
	return s.patterns, nil
}

func (s *fakeHTTPStore) AddPattern(_ context.Context, p report.Pattern) (report.Pattern, error) {
	if s.addErr != nil {
		return report.Pattern{}, s.addErr
	}
	p.ID = int64(len(s.patterns) + 1)
	s.patterns = append(s.patterns, p)
	return p, nil
}

func (s *fakeHTTPStore) UpdatePattern(context.Context, report.Pattern) error { return nil }

func (s *fakeHTTPStore) RemovePattern(context.Context, int64) error { return nil }

func (s *fakeHTTPStore) ListUnmatched(context.Context, report.StudyType, int) ([]report.UnmatchedFinding, error) {
	var out []report.UnmatchedFinding
	for _, u := range s.unmatched {
		out = append(out, u)
	}
	return out, nil
}

func (s *fakeHTTPStore) GetUnmatched(_ context.Context, id int64) (report.UnmatchedFinding, error) {
	u, ok := s.unmatched[id]
	if !ok {
		return report.UnmatchedFinding{}, store.NewNotFoundError("unmatched finding not found")
	}
	return u, nil
}

func (s *fakeHTTPStore) PromoteUnmatched(_ context.Context, id int64, patternText, impressionText string) (report.Pattern, error) {
	u, ok := s.unmatched[id]
	if !ok {
		return report.Pattern{}, store.NewNotFoundError("unmatched finding not found")
	}
	if strings.TrimSpace(patternText) == "" {
		patternText = u.RawText
	}
	p := report.Pattern{
		ID:             int64(len(s.promoted) + 100),
		StudyType:      u.StudyType,
		Category:       u.Category,
		PatternText:    patternText,
		ImpressionText: impressionText,
	}
	s.promoted = append(s.promoted, p)
	return p, nil
}

func (s *fakeHTTPStore) GetReport(_ context.Context, id string) (report.GeneratedReport, error) {
	rec, ok := s.reports[id]
	if !ok {
		return report.GeneratedReport{}, store.NewNotFoundError("report not found")
	}
	return rec, nil
}

func (s *fakeHTTPStore) ListReports(context.Context, int) ([]report.GeneratedReport, error) {
	var out []report.GeneratedReport
	for _, rec := range s.reports {
		out = append(out, rec)
	}
	return out, nil
}

const testAdminToken = "secret-token"

func newTestServer(t *testing.T, gen *fakeGenerator, st *fakeHTTPStore, suggester *fakeSuggester) http.Handler {
	t.Helper()
	if gen == nil {
		gen = &fakeGenerator{}
	}
	if st == nil {
		st = newFakeHTTPStore()
	}
	var sg ImpressionSuggester
	if suggester != nil {
		sg = suggester
	}
	return NewServer(gen, st, nil, sg, testAdminToken)
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error payload: %v\n%s", err, body)
	}
	return payload.Error.Code
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil, nil, nil)
	w := doJSON(t, h, http.MethodGet, "/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
}

func TestGenerateReport(t *testing.T) {
	gen := &fakeGenerator{rec: report.GeneratedReport{ID: "abc", Facility: "Main Street Imaging", StudyType: report.StudyChest, Body: "CT CHEST"}}
	h := newTestServer(t, gen, nil, nil)

	w := doJSON(t, h, http.MethodPost, "/v1/reports", "", `{
		"facility": "Main Street Imaging",
		"study_type": "Chest",
		"findings": {"chest": "lungs clear"}
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", w.Code, w.Body)
	}
	if gen.lastReq.StudyType != report.StudyChest {
		t.Fatalf("study type %q not forwarded", gen.lastReq.StudyType)
	}
	if gen.lastReq.Sections[report.SectionChest] != "lungs clear" {
		t.Fatalf("findings not forwarded: %+v", gen.lastReq.Sections)
	}
	var rec report.GeneratedReport
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.ID != "abc" {
		t.Fatalf("report id %q, want abc", rec.ID)
	}
}

func TestGenerateReportRejectsDICOM(t *testing.T) {
	h := newTestServer(t, nil, nil, nil)
	for _, body := range []string{
		`{"facility":"X","study_type":"Chest","image_filename":"scan.DCM"}`,
		`{"facility":"X","study_type":"Chest","image_media_type":"application/dicom"}`,
	} {
		w := doJSON(t, h, http.MethodPost, "/v1/reports", "", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status %d, want 400 for %s", w.Code, body)
		}
		if code := errorCode(t, w.Body.Bytes()); code != store.CodeValidation {
			t.Fatalf("error code %q, want %q", code, store.CodeValidation)
		}
	}
}

func TestGenerateReportBadInput(t *testing.T) {
	h := newTestServer(t, nil, nil, nil)

	w := doJSON(t, h, http.MethodPost, "/v1/reports", "", `{"facility":"X","study_type":"Cranial"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown study type: status %d, want 400", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/v1/reports", "", `{"facility":"X","study_type":"Chest","findings":{"skull":"x"}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown section: status %d, want 400", w.Code)
	}

	w = doJSON(t, h, http.MethodPost, "/v1/reports", "", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status %d, want 400", w.Code)
	}
}

func TestGenerateReportMapsGeneratorErrors(t *testing.T) {
	gen := &fakeGenerator{err: report.NewInvalidInput("facility is required")}
	h := newTestServer(t, gen, nil, nil)
	w := doJSON(t, h, http.MethodPost, "/v1/reports", "", `{"facility":" ","study_type":"Chest"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}

	gen.err = errors.New("boom")
	w = doJSON(t, h, http.MethodPost, "/v1/reports", "", `{"facility":"X","study_type":"Chest"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", w.Code)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	h := newTestServer(t, nil, nil, nil)
	for _, tc := range []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong", "nope"},
	} {
		w := doJSON(t, h, http.MethodGet, "/v1/admin/patterns", tc.token, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s token: status %d, want 401", tc.name, w.Code)
		}
		if code := errorCode(t, w.Body.Bytes()); code != store.CodeUnauthorized {
			t.Fatalf("%s token: error code %q", tc.name, code)
		}
	}
}

func TestAdminBearerTokenAccepted(t *testing.T) {
	h := newTestServer(t, nil, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/patterns", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
}

func TestEmptyConfiguredTokenRefusesAll(t *testing.T) {
	h := NewServer(&fakeGenerator{}, newFakeHTTPStore(), nil, nil, "")
	w := doJSON(t, h, http.MethodGet, "/v1/admin/patterns", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}

func TestAddPattern(t *testing.T) {
	st := newFakeHTTPStore()
	h := newTestServer(t, nil, st, nil)

	w := doJSON(t, h, http.MethodPost, "/v1/admin/patterns", testAdminToken, `{
		"study_type": "Chest",
		"category": "Lungs",
		"pattern_text": "clear",
		"impression_text": "No acute pulmonary process."
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", w.Code, w.Body)
	}
	if len(st.patterns) != 1 || st.patterns[0].PatternText != "clear" {
		t.Fatalf("pattern not stored: %+v", st.patterns)
	}

	st.addErr = store.NewDuplicateError("pattern already exists for this study type and category")
	w = doJSON(t, h, http.MethodPost, "/v1/admin/patterns", testAdminToken, `{
		"study_type": "Chest",
		"category": "Lungs",
		"pattern_text": "clear",
		"impression_text": "No acute pulmonary process."
	}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: status %d, want 409", w.Code)
	}
	if code := errorCode(t, w.Body.Bytes()); code != store.CodeDuplicate {
		t.Fatalf("duplicate: error code %q", code)
	}
}

func TestPromoteUnmatched(t *testing.T) {
	st := newFakeHTTPStore()
	st.unmatched[7] = report.UnmatchedFinding{
		ID:        7,
		StudyType: report.StudyChest,
		Category:  "Lungs",
		RawText:   "Nodule in right upper lobe.",
	}
	h := newTestServer(t, nil, st, nil)

	w := doJSON(t, h, http.MethodPost, "/v1/admin/unmatched/7/promote", testAdminToken, `{
		"impression_text": "Right upper lobe nodule, recommend followup CT."
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", w.Code, w.Body)
	}
	if len(st.promoted) != 1 {
		t.Fatalf("promotion not recorded: %+v", st.promoted)
	}
	if st.promoted[0].PatternText != "Nodule in right upper lobe." {
		t.Fatalf("pattern text should default to the finding: %+v", st.promoted[0])
	}

	w = doJSON(t, h, http.MethodPost, "/v1/admin/unmatched/99/promote", testAdminToken, `{"impression_text":"x"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status %d, want 404", w.Code)
	}
}

func TestPromoteUnmatchedSuggestsImpression(t *testing.T) {
	st := newFakeHTTPStore()
	st.unmatched[3] = report.UnmatchedFinding{
		ID:        3,
		StudyType: report.StudyChest,
		Category:  "Lungs",
		RawText:   "Small left pleural effusion.",
	}
	suggester := &fakeSuggester{impression: "Small left pleural effusion."}
	h := newTestServer(t, nil, st, suggester)

	w := doJSON(t, h, http.MethodPost, "/v1/admin/unmatched/3/promote", testAdminToken, `{}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, want 201: %s", w.Code, w.Body)
	}
	if suggester.calls != 1 {
		t.Fatalf("suggester calls = %d, want 1", suggester.calls)
	}
	if st.promoted[0].ImpressionText != suggester.impression {
		t.Fatalf("suggested impression not used: %+v", st.promoted[0])
	}
}

func TestPromoteRequiresImpressionWithoutSuggester(t *testing.T) {
	st := newFakeHTTPStore()
	st.unmatched[3] = report.UnmatchedFinding{ID: 3, StudyType: report.StudyChest, Category: "Lungs", RawText: "x"}
	h := newTestServer(t, nil, st, nil)

	w := doJSON(t, h, http.MethodPost, "/v1/admin/unmatched/3/promote", testAdminToken, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestGetReportNotFound(t *testing.T) {
	h := newTestServer(t, nil, nil, nil)
	w := doJSON(t, h, http.MethodGet, "/v1/reports/nope", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestReportPDFNotConfigured(t *testing.T) {
	st := newFakeHTTPStore()
	st.reports["abc"] = report.GeneratedReport{ID: "abc", Markdown: "# Report\n"}
	h := newTestServer(t, nil, st, nil)
	w := doJSON(t, h, http.MethodGet, "/v1/reports/abc/pdf", "", "")
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status %d, want 501", w.Code)
	}
}

func TestGetTemplate(t *testing.T) {
	h := newTestServer(t, nil, nil, nil)
	w := doJSON(t, h, http.MethodGet, "/v1/templates/chest", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", w.Code)
	}
	var tpl report.Template
	if err := json.Unmarshal(w.Body.Bytes(), &tpl); err != nil {
		t.Fatalf("decode template: %v", err)
	}
	if tpl.Title != "CT CHEST WITHOUT CONTRAST:" {
		t.Fatalf("template title %q", tpl.Title)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/templates/skull", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown section: status %d, want 404", w.Code)
	}
}
