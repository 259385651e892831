package claude

import (
	"context"
	"errors"
	"strings"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quantnexusai/radreport-ai/internal/report"
)

type scriptedMessager struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (m *scriptedMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	idx := m.calls
	m.calls++
	for _, msg := range params.Messages {
		for _, block := range msg.Content {
			if block.OfText != nil {
				m.prompts = append(m.prompts, block.OfText.Text)
			}
		}
	}
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	text := ""
	if idx < len(m.responses) {
		text = m.responses[idx]
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}},
	}, nil
}

func TestCorrectFindings(t *testing.T) {
	m := &scriptedMessager{responses: []string{"The lungs are clear and well expanded.\n"}}
	c := newClient(m, Config{})

	out, err := c.CorrectFindings(context.Background(), "lungs clear, well expanded", report.SectionChest)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if out != "The lungs are clear and well expanded." {
		t.Fatalf("got %q", out)
	}
	if m.calls != 1 {
		t.Fatalf("expected 1 API call, got %d", m.calls)
	}
	if len(m.prompts) == 0 || !strings.Contains(m.prompts[0], "lungs clear, well expanded") {
		t.Fatalf("raw findings missing from prompt: %q", m.prompts)
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	m := &scriptedMessager{
		errs:      []error{errors.New("status code: 529 overloaded"), nil},
		responses: []string{"", "corrected"},
	}
	c := newClient(m, Config{})

	out, err := c.CorrectFindings(context.Background(), "raw", report.SectionChest)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if out != "corrected" || m.calls != 2 {
		t.Fatalf("got %q after %d calls", out, m.calls)
	}
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	m := &scriptedMessager{errs: []error{errors.New("status code: 400 invalid request")}}
	c := newClient(m, Config{})

	_, err := c.CorrectFindings(context.Background(), "raw", report.SectionChest)
	if err == nil {
		t.Fatal("expected error")
	}
	if m.calls != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", m.calls)
	}
}

func TestGenerateEmptyResponse(t *testing.T) {
	m := &scriptedMessager{responses: []string{"   "}}
	c := newClient(m, Config{})

	_, err := c.CorrectFindings(context.Background(), "raw", report.SectionChest)
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestParseCategorization(t *testing.T) {
	raw := `Finding: Nodule in right upper lobe.
Category: Lungs

Finding: Trace pericardial fluid.
Category: Heart

Finding: Something odd.
Category: Gallbladder`

	got := parseCategorization(raw, []string{"Lungs", "Heart"})
	if len(got) != 2 {
		t.Fatalf("got %d entries: %v", len(got), got)
	}
	if got["Nodule in right upper lobe."] != "Lungs" {
		t.Fatalf("lung finding miscategorized: %v", got)
	}
	if got["Trace pericardial fluid."] != "Heart" {
		t.Fatalf("heart finding miscategorized: %v", got)
	}
	if _, ok := got["Something odd."]; ok {
		t.Fatal("category outside the allowed list must be dropped")
	}
}

func TestCategorizeFindingsEmptyInput(t *testing.T) {
	m := &scriptedMessager{}
	c := newClient(m, Config{})
	got, err := c.CategorizeFindings(context.Background(), nil, []string{"Lungs"}, report.SectionChest)
	if err != nil {
		t.Fatalf("categorize: %v", err)
	}
	if len(got) != 0 || m.calls != 0 {
		t.Fatalf("no findings should mean no API call, got %d calls", m.calls)
	}
}

func TestStripCodeFences(t *testing.T) {
	in := "```\nThe lungs are clear.\n```"
	if got := stripCodeFences(in); got != "The lungs are clear." {
		t.Fatalf("unexpected: %q", got)
	}
	if got := stripCodeFences("plain text"); got != "plain text" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestClassifyTransportError(t *testing.T) {
	for _, tc := range []struct {
		msg  string
		want failureClass
	}{
		{"status code: 429 rate limited", failureRateLimit},
		{"status code: 500 internal", failureServer},
		{"status code: 400 bad request", failureClient},
		{"connection reset", failureServer},
	} {
		if got := classifyTransportError(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("classify(%q) got %v, want %v", tc.msg, got, tc.want)
		}
	}
	if got := classifyTransportError(context.DeadlineExceeded); got != failureTimeout {
		t.Fatalf("deadline should classify as timeout, got %v", got)
	}
}
