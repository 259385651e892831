package pdf

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const styleCSS = `
body { font-family: "Georgia", "Times New Roman", serif; color: #1c1917; margin: 0 auto; max-width: 54rem; padding: 1rem 1.25rem; font-size: 11pt; line-height: 1.5; }
h1 { font-size: 16pt; border-bottom: 2px solid #1c1917; padding-bottom: 0.3rem; }
h2 { font-size: 12.5pt; margin-top: 1.4rem; letter-spacing: 0.02em; }
ul { padding-left: 1.2rem; }
li { margin: 0.15rem 0; }
.report-meta { color: #44403c; font-size: 9.5pt; margin-bottom: 1rem; }
`

// Renderer converts a report's markdown rendition into a PDF through
// headless Chromium.
type Renderer struct {
	chromePath string
}

func NewRenderer(chromePath string) *Renderer {
	if chromePath == "" {
		chromePath = detectChromePath()
	}
	return &Renderer{chromePath: chromePath}
}

func (r *Renderer) Render(ctx context.Context, markdown, generatedAt string) ([]byte, error) {
	htmlDoc, err := buildHTML(markdown, generatedAt)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.5).
				WithPaperHeight(11).
				WithMarginTop(0.6).
				WithMarginBottom(0.75).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func buildHTML(markdown, generatedAt string) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}

	meta := ""
	if strings.TrimSpace(generatedAt) != "" {
		meta = "<div class='report-meta'>Generated " + html.EscapeString(generatedAt) + "</div>"
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>Radiology Report</title>" +
		"<style>" + styleCSS +
		"html,body{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}" +
		"</style></head><body>" + meta + content.String() + "</body></html>", nil
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
