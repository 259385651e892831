// render-report renders a stored report to PDF by id, for archival or
// offline delivery.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/quantnexusai/radreport-ai/internal/pdf"
	"github.com/quantnexusai/radreport-ai/internal/store"
)

func main() {
	var (
		dbPath     = flag.String("db", "radreport.db", "SQLite database path")
		reportID   = flag.String("id", "", "Report id to render")
		outputPath = flag.String("output", "", "Path to write the PDF (required)")
		chromePath = flag.String("chrome", "", "Chromium binary path (auto-detected when empty)")
	)
	flag.Parse()

	if *reportID == "" {
		log.Fatal("missing required -id")
	}
	if *outputPath == "" {
		log.Fatal("missing required -output")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	rec, err := st.GetReport(ctx, *reportID)
	if err != nil {
		log.Fatalf("load report: %v", err)
	}

	blob, err := pdf.NewRenderer(*chromePath).Render(ctx, rec.Markdown, rec.CreatedAt.Format(time.RFC1123))
	if err != nil {
		log.Fatalf("render pdf: %v", err)
	}
	if err := os.WriteFile(*outputPath, blob, 0o644); err != nil {
		log.Fatalf("write pdf: %v", err)
	}
	log.Printf("wrote %s (%d bytes)", *outputPath, len(blob))
}
