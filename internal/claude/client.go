package claude

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/quantnexusai/radreport-ai/internal/metrics"
	"github.com/quantnexusai/radreport-ai/internal/report"
)

const (
	correctionSystemPrompt = "You are a radiology report assistant that helps format findings into proper medical terminology and grammar. You never change measurements or clinical observations."
	imageSystemPrompt      = "You are a radiology AI assistant that helps identify potential findings in medical images. You are conservative in your assessments and careful not to overinterpret single images."
	impressionSystemPrompt = "You are a radiology report assistant that generates appropriate impression text for findings. You follow standard radiological guidelines for follow-up recommendations."
	categorizeSystemPrompt = "You are a radiology report assistant that categorizes findings into appropriate sections. You match each finding to exactly one category from the provided list, using the exact category names given."
)

type failureClass int

const (
	failureTimeout failureClass = iota
	failureRateLimit
	failureServer
	failureClient
)

// Messager is the narrow slice of the Anthropic SDK the client needs;
// injectable for tests.
type Messager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type Config struct {
	APIKey string
	Model  string
	// RequestsPerMinute paces outbound API calls. Zero means no pacing.
	RequestsPerMinute int
}

// Client wraps the Anthropic API with the four report operations: grammar
// correction, image analysis, impression drafting, and finding
// categorization.
type Client struct {
	messages Messager
	model    anthropic.Model
	limiter  *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newClient(&c.Messages, cfg), nil
}

func newClient(m Messager, cfg Config) *Client {
	model := anthropic.ModelClaudeSonnet4_20250514
	if cfg.Model != "" {
		model = anthropic.Model(cfg.Model)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return &Client{messages: m, model: model, limiter: limiter}
}

// CorrectFindings turns raw radiologist shorthand into grammatically correct
// sentences, one finding per line. Medical details are preserved verbatim.
func (c *Client) CorrectFindings(ctx context.Context, raw string, section report.Section) (string, error) {
	prompt := fmt.Sprintf(`Please convert these radiology findings into properly formatted, grammatically correct complete sentences for a %s CT report:

%s

Return only the formatted findings with no additional commentary. Each finding should be on its own line. Maintain all medical details exactly as provided.`, sectionLabel(section), raw)

	out, err := c.generate(ctx, "correct_findings", correctionSystemPrompt, 1000,
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// AnalyzeImage asks for conservative supplementary observations on an
// uploaded study image. imageB64 is base64-encoded image data.
func (c *Client) AnalyzeImage(ctx context.Context, imageB64, mediaType string, study report.StudyType) (string, error) {
	prompt := fmt.Sprintf(`Please analyze this %s CT scan image and provide any notable observations that might complement the radiologist's findings. Focus only on obvious abnormalities visible in this single image. Be conservative and specific in your assessment.

If you identify any clear abnormalities, describe them in detail including:
1. Location (which anatomical structure/region)
2. Size (if measurable)
3. Characteristics (density, shape, borders)
4. Significance (normal variant, potentially concerning, etc.)

If no significant abnormalities are evident, state that clearly.`, study)

	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	out, err := c.generate(ctx, "analyze_image", imageSystemPrompt, 1000,
		anthropic.NewUserMessage(
			anthropic.NewImageBlockBase64(mediaType, imageB64),
			anthropic.NewTextBlock(prompt),
		))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// GenerateImpression drafts impression text for a finding; used by the admin
// surface when promoting an unmatched finding without hand-written text.
func (c *Client) GenerateImpression(ctx context.Context, finding string, section report.Section) (string, error) {
	prompt := fmt.Sprintf(`Generate an appropriate impression for the following radiology finding in the %s section:

Finding: %s

The impression should:
1. Be concise (typically 1-2 sentences)
2. Use standard radiological terminology
3. Include relevant clinical implications if appropriate
4. Suggest follow-up if needed based on standard guidelines

Return only the impression text with no additional commentary.`, sectionLabel(section), finding)

	out, err := c.generate(ctx, "generate_impression", impressionSystemPrompt, 150,
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CategorizeFindings assigns each finding line to one of the allowed
// categories. Findings the model maps to a category outside the list are
// dropped from the result.
func (c *Client) CategorizeFindings(ctx context.Context, findings, categories []string, section report.Section) (map[string]string, error) {
	if len(findings) == 0 {
		return map[string]string{}, nil
	}
	var list strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&list, "- %s\n", f)
	}
	prompt := fmt.Sprintf(`Categorize each of the following radiology findings into the most appropriate category from the list below. Each finding should be assigned to exactly one category.

Section: %s

Available categories:
%s

Findings to categorize:
%s
For each finding, return only the finding text and the selected category in this exact format:
Finding: [exact finding text]
Category: [exact category name from the list]

Provide this for each finding, with one blank line between entries.`,
		sectionLabel(section), strings.Join(categories, "\n"), list.String())

	out, err := c.generate(ctx, "categorize_findings", categorizeSystemPrompt, 500,
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))
	if err != nil {
		return nil, err
	}
	return parseCategorization(out, categories), nil
}

func parseCategorization(raw string, categories []string) map[string]string {
	allowed := map[string]bool{}
	for _, c := range categories {
		allowed[c] = true
	}
	result := map[string]string{}
	current := ""
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Finding:"):
			current = strings.TrimSpace(strings.TrimPrefix(line, "Finding:"))
		case strings.HasPrefix(line, "Category:") && current != "":
			category := strings.TrimSpace(strings.TrimPrefix(line, "Category:"))
			if allowed[category] {
				result[current] = category
			}
			current = ""
		}
	}
	return result
}

func (c *Client) generate(ctx context.Context, operation, system string, maxTokens int64, msg anthropic.MessageParam) (string, error) {
	for attempt := 1; attempt <= 3; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		resp, err := c.messages.New(ctx, anthropic.MessageNewParams{
			Model:       c.model,
			MaxTokens:   maxTokens,
			System:      []anthropic.TextBlockParam{{Text: system}},
			Messages:    []anthropic.MessageParam{msg},
			Temperature: anthropic.Float(0),
		})
		if err != nil {
			class := classifyTransportError(err)
			if attempt < 3 && (class == failureTimeout || class == failureRateLimit || class == failureServer) {
				time.Sleep(backoffDelay(attempt))
				continue
			}
			metrics.RecordClaudeCall(operation, "error")
			return "", fmt.Errorf("%s transport failure: %w", operation, err)
		}
		var sb strings.Builder
		for _, b := range resp.Content {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		out := stripCodeFences(sb.String())
		if strings.TrimSpace(out) == "" {
			metrics.RecordClaudeCall(operation, "empty")
			return "", fmt.Errorf("%s failed: empty response", operation)
		}
		metrics.RecordClaudeCall(operation, "ok")
		return out, nil
	}
	return "", fmt.Errorf("%s failed after retries", operation)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

func sectionLabel(sec report.Section) string {
	if sec == report.SectionAbdomenPelvis {
		return "abdomen and pelvis"
	}
	return string(sec)
}

func classifyTransportError(err error) failureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}
