package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/quantnexusai/radreport-ai/internal/report"
)

// Store owns all persistence: facilities, section templates, impression
// patterns, the unmatched-finding log, and generated reports. SQLite-backed;
// a single write connection keeps admin edits and report generations from
// stepping on each other.
type Store struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS facilities (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	name              TEXT NOT NULL UNIQUE,
	technique_chest   TEXT NOT NULL DEFAULT '',
	technique_abdomen TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS report_templates (
	section          TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	categories       TEXT NOT NULL DEFAULT '[]',
	default_findings TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS impression_patterns (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	study_type      TEXT NOT NULL,
	category        TEXT NOT NULL,
	pattern_text    TEXT NOT NULL,
	impression_text TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	UNIQUE (study_type, category, pattern_text)
);

CREATE TABLE IF NOT EXISTS unmatched_findings (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	study_type TEXT NOT NULL,
	category   TEXT NOT NULL,
	finding    TEXT NOT NULL,
	resolved   INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	facility        TEXT NOT NULL,
	study_type      TEXT NOT NULL,
	body            TEXT NOT NULL,
	markdown        TEXT NOT NULL DEFAULT '',
	unmatched_count INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);
`

func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- facilities ---

func (s *Store) ListFacilities(ctx context.Context) ([]report.Facility, error) {
	var out []report.Facility
	err := s.db.SelectContext(ctx, &out,
		"SELECT id, name, technique_chest, technique_abdomen FROM facilities ORDER BY id")
	if err != nil {
		return nil, NewInternalError("list facilities: " + err.Error())
	}
	return out, nil
}

func (s *Store) FacilityByName(ctx context.Context, name string) (report.Facility, error) {
	var f report.Facility
	err := s.db.GetContext(ctx, &f,
		"SELECT id, name, technique_chest, technique_abdomen FROM facilities WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Facility{}, NewNotFoundError(fmt.Sprintf("facility %q not found", name))
	}
	if err != nil {
		return report.Facility{}, NewInternalError("get facility: " + err.Error())
	}
	return f, nil
}

func (s *Store) AddFacility(ctx context.Context, f report.Facility) (report.Facility, error) {
	if strings.TrimSpace(f.Name) == "" {
		return report.Facility{}, NewValidationError("facility name is required")
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO facilities (name, technique_chest, technique_abdomen) VALUES (?, ?, ?)",
		f.Name, f.TechniqueChest, f.TechniqueAbdomen)
	if err != nil {
		if isUniqueViolation(err) {
			return report.Facility{}, NewDuplicateError(fmt.Sprintf("facility %q already exists", f.Name))
		}
		return report.Facility{}, NewInternalError("add facility: " + err.Error())
	}
	f.ID, _ = res.LastInsertId()
	return f, nil
}

// --- templates ---

type templateRow struct {
	Section         string `db:"section"`
	Title           string `db:"title"`
	Categories      string `db:"categories"`
	DefaultFindings string `db:"default_findings"`
}

func (r templateRow) toTemplate() report.Template {
	tpl := report.Template{
		Section:         report.Section(r.Section),
		Title:           r.Title,
		DefaultFindings: map[string]string{},
	}
	_ = json.Unmarshal([]byte(r.Categories), &tpl.Categories)
	_ = json.Unmarshal([]byte(r.DefaultFindings), &tpl.DefaultFindings)
	return tpl
}

func (s *Store) TemplateForSection(ctx context.Context, sec report.Section) (report.Template, error) {
	var row templateRow
	err := s.db.GetContext(ctx, &row,
		"SELECT section, title, categories, default_findings FROM report_templates WHERE section = ?", string(sec))
	if errors.Is(err, sql.ErrNoRows) {
		return report.Template{}, NewNotFoundError(fmt.Sprintf("no template for section %q", sec))
	}
	if err != nil {
		return report.Template{}, NewInternalError("get template: " + err.Error())
	}
	return row.toTemplate(), nil
}

func (s *Store) UpsertTemplate(ctx context.Context, tpl report.Template) error {
	if tpl.Section != report.SectionChest && tpl.Section != report.SectionAbdomenPelvis {
		return NewValidationError(fmt.Sprintf("unknown section %q", tpl.Section))
	}
	if strings.TrimSpace(tpl.Title) == "" || len(tpl.Categories) == 0 {
		return NewValidationError("template title and categories are required")
	}
	cats, err := json.Marshal(tpl.Categories)
	if err != nil {
		return NewInternalError("encode categories: " + err.Error())
	}
	defaults, err := json.Marshal(tpl.DefaultFindings)
	if err != nil {
		return NewInternalError("encode default findings: " + err.Error())
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO report_templates (section, title, categories, default_findings)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (section) DO UPDATE SET
			title = excluded.title,
			categories = excluded.categories,
			default_findings = excluded.default_findings`,
		string(tpl.Section), tpl.Title, string(cats), string(defaults))
	if err != nil {
		return NewInternalError("upsert template: " + err.Error())
	}
	return nil
}

// --- impression patterns ---

// ListPatterns returns the active patterns for one (study type, category)
// pair in insertion order. The order is load-bearing: the matcher breaks
// equal-length ties toward the most recently added pattern.
func (s *Store) ListPatterns(ctx context.Context, study report.StudyType, category string) ([]report.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_type, category, pattern_text, impression_text, created_at
		FROM impression_patterns
		WHERE study_type = ? AND category = ?
		ORDER BY id`, string(study), category)
	if err != nil {
		return nil, NewInternalError("list patterns: " + err.Error())
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func (s *Store) ListAllPatterns(ctx context.Context) ([]report.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, study_type, category, pattern_text, impression_text, created_at
		FROM impression_patterns
		ORDER BY study_type, category, id`)
	if err != nil {
		return nil, NewInternalError("list patterns: " + err.Error())
	}
	defer rows.Close()
	return scanPatterns(rows)
}

func scanPatterns(rows *sql.Rows) ([]report.Pattern, error) {
	var out []report.Pattern
	for rows.Next() {
		var p report.Pattern
		var createdAt string
		if err := rows.Scan(&p.ID, &p.StudyType, &p.Category, &p.PatternText, &p.ImpressionText, &createdAt); err != nil {
			return nil, NewInternalError("scan pattern: " + err.Error())
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, NewInternalError("scan patterns: " + err.Error())
	}
	return out, nil
}

func (s *Store) AddPattern(ctx context.Context, p report.Pattern) (report.Pattern, error) {
	if err := validatePattern(p); err != nil {
		return report.Pattern{}, err
	}
	p.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO impression_patterns (study_type, category, pattern_text, impression_text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(p.StudyType), p.Category, p.PatternText, p.ImpressionText,
		p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return report.Pattern{}, NewDuplicateError(fmt.Sprintf(
				"pattern %q already exists for %s/%s", p.PatternText, p.StudyType, p.Category))
		}
		return report.Pattern{}, NewInternalError("add pattern: " + err.Error())
	}
	p.ID, _ = res.LastInsertId()
	return p, nil
}

func (s *Store) UpdatePattern(ctx context.Context, p report.Pattern) error {
	if err := validatePattern(p); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE impression_patterns
		SET study_type = ?, category = ?, pattern_text = ?, impression_text = ?
		WHERE id = ?`,
		string(p.StudyType), p.Category, p.PatternText, p.ImpressionText, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return NewDuplicateError(fmt.Sprintf(
				"pattern %q already exists for %s/%s", p.PatternText, p.StudyType, p.Category))
		}
		return NewInternalError("update pattern: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFoundError(fmt.Sprintf("pattern %d not found", p.ID))
	}
	return nil
}

func (s *Store) RemovePattern(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM impression_patterns WHERE id = ?", id)
	if err != nil {
		return NewInternalError("remove pattern: " + err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFoundError(fmt.Sprintf("pattern %d not found", id))
	}
	return nil
}

func validatePattern(p report.Pattern) error {
	if len(p.StudyType.Sections()) == 0 {
		return NewValidationError(fmt.Sprintf("unknown study type %q", p.StudyType))
	}
	if strings.TrimSpace(p.Category) == "" {
		return NewValidationError("pattern category is required")
	}
	if strings.TrimSpace(p.PatternText) == "" {
		return NewValidationError("pattern text is required")
	}
	if strings.TrimSpace(p.ImpressionText) == "" {
		return NewValidationError("impression text is required")
	}
	return nil
}

// --- unmatched findings ---

func (s *Store) RecordUnmatched(ctx context.Context, study report.StudyType, category, finding string) (report.UnmatchedFinding, error) {
	if strings.TrimSpace(finding) == "" {
		return report.UnmatchedFinding{}, NewValidationError("unmatched finding text is required")
	}
	u := report.UnmatchedFinding{
		StudyType: study,
		Category:  category,
		RawText:   finding,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO unmatched_findings (study_type, category, finding, resolved, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		string(study), category, finding, u.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return report.UnmatchedFinding{}, NewInternalError("record unmatched: " + err.Error())
	}
	u.ID, _ = res.LastInsertId()
	return u, nil
}

// ListUnmatched returns unresolved findings, newest first. An empty study
// type means all study types.
func (s *Store) ListUnmatched(ctx context.Context, study report.StudyType, limit int) ([]report.UnmatchedFinding, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, study_type, category, finding, resolved, created_at
		FROM unmatched_findings
		WHERE resolved = 0`
	args := []any{}
	if study != "" {
		query += " AND study_type = ?"
		args = append(args, string(study))
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewInternalError("list unmatched: " + err.Error())
	}
	defer rows.Close()

	var out []report.UnmatchedFinding
	for rows.Next() {
		var u report.UnmatchedFinding
		var resolved int
		var createdAt string
		if err := rows.Scan(&u.ID, &u.StudyType, &u.Category, &u.RawText, &resolved, &createdAt); err != nil {
			return nil, NewInternalError("scan unmatched: " + err.Error())
		}
		u.Resolved = resolved != 0
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, NewInternalError("scan unmatched: " + err.Error())
	}
	return out, nil
}

func (s *Store) GetUnmatched(ctx context.Context, id int64) (report.UnmatchedFinding, error) {
	var u report.UnmatchedFinding
	var resolved int
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, study_type, category, finding, resolved, created_at FROM unmatched_findings WHERE id = ?", id).
		Scan(&u.ID, &u.StudyType, &u.Category, &u.RawText, &resolved, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return report.UnmatchedFinding{}, NewNotFoundError(fmt.Sprintf("unmatched finding %d not found", id))
	}
	if err != nil {
		return report.UnmatchedFinding{}, NewInternalError("get unmatched: " + err.Error())
	}
	u.Resolved = resolved != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return u, nil
}

// PromoteUnmatched turns an unmatched finding into a new pattern and marks
// it resolved, in one transaction. patternText defaults to the recorded
// finding text when empty.
func (s *Store) PromoteUnmatched(ctx context.Context, id int64, patternText, impressionText string) (report.Pattern, error) {
	if strings.TrimSpace(impressionText) == "" {
		return report.Pattern{}, NewValidationError("impression text is required")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return report.Pattern{}, NewInternalError("begin tx: " + err.Error())
	}
	defer tx.Rollback()

	var study, category, finding string
	var resolved int
	err = tx.QueryRowContext(ctx,
		"SELECT study_type, category, finding, resolved FROM unmatched_findings WHERE id = ?", id).
		Scan(&study, &category, &finding, &resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Pattern{}, NewNotFoundError(fmt.Sprintf("unmatched finding %d not found", id))
	}
	if err != nil {
		return report.Pattern{}, NewInternalError("get unmatched: " + err.Error())
	}
	if resolved != 0 {
		return report.Pattern{}, NewValidationError(fmt.Sprintf("unmatched finding %d already resolved", id))
	}

	if strings.TrimSpace(patternText) == "" {
		patternText = finding
	}
	p := report.Pattern{
		StudyType:      report.StudyType(study),
		Category:       category,
		PatternText:    patternText,
		ImpressionText: impressionText,
		CreatedAt:      time.Now().UTC(),
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO impression_patterns (study_type, category, pattern_text, impression_text, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		study, category, p.PatternText, p.ImpressionText, p.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return report.Pattern{}, NewDuplicateError(fmt.Sprintf(
				"pattern %q already exists for %s/%s", p.PatternText, study, category))
		}
		return report.Pattern{}, NewInternalError("promote: insert pattern: " + err.Error())
	}
	p.ID, _ = res.LastInsertId()

	if _, err := tx.ExecContext(ctx,
		"UPDATE unmatched_findings SET resolved = 1 WHERE id = ?", id); err != nil {
		return report.Pattern{}, NewInternalError("promote: mark resolved: " + err.Error())
	}
	if err := tx.Commit(); err != nil {
		return report.Pattern{}, NewInternalError("promote: commit: " + err.Error())
	}
	return p, nil
}

// --- generated reports ---

func (s *Store) SaveReport(ctx context.Context, r report.GeneratedReport) error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("report id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, facility, study_type, body, markdown, unmatched_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Facility, string(r.StudyType), r.Body, r.Markdown, r.UnmatchedCount,
		r.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return NewInternalError("save report: " + err.Error())
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (report.GeneratedReport, error) {
	var r report.GeneratedReport
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, facility, study_type, body, markdown, unmatched_count, created_at
		FROM reports WHERE id = ?`, id).
		Scan(&r.ID, &r.Facility, &r.StudyType, &r.Body, &r.Markdown, &r.UnmatchedCount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return report.GeneratedReport{}, NewNotFoundError(fmt.Sprintf("report %q not found", id))
	}
	if err != nil {
		return report.GeneratedReport{}, NewInternalError("get report: " + err.Error())
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return r, nil
}

func (s *Store) ListReports(ctx context.Context, limit int) ([]report.GeneratedReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, facility, study_type, body, markdown, unmatched_count, created_at
		FROM reports ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, NewInternalError("list reports: " + err.Error())
	}
	defer rows.Close()

	var out []report.GeneratedReport
	for rows.Next() {
		var r report.GeneratedReport
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Facility, &r.StudyType, &r.Body, &r.Markdown, &r.UnmatchedCount, &createdAt); err != nil {
			return nil, NewInternalError("scan report: " + err.Error())
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, NewInternalError("scan reports: " + err.Error())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
