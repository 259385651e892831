// pattern-admin is the operator tool for curating the impression pattern
// table and reviewing the unmatched-finding log against a radreport
// database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/quantnexusai/radreport-ai/internal/report"
	"github.com/quantnexusai/radreport-ai/internal/store"
)

func main() {
	var (
		dbPath     = flag.String("db", "radreport.db", "SQLite database path")
		study      = flag.String("study", "", "Study type (Chest, Abdomen and Pelvis, Full Body)")
		category   = flag.String("category", "", "Anatomical category (e.g. Lungs)")
		pattern    = flag.String("pattern", "", "Pattern text")
		impression = flag.String("impression", "", "Impression text")
		id         = flag.Int64("id", 0, "Pattern or unmatched finding id")
		limit      = flag.Int("limit", 50, "Max rows to list")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	switch flag.Arg(0) {
	case "list":
		listPatterns(ctx, st)
	case "add":
		addPattern(ctx, st, *study, *category, *pattern, *impression)
	case "remove":
		removePattern(ctx, st, *id)
	case "unmatched":
		listUnmatched(ctx, st, *study, *limit)
	case "promote":
		promote(ctx, st, *id, *pattern, *impression)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: pattern-admin [flags] <command>

Commands:
  list        List all impression patterns
  add         Add a pattern (-study -category -pattern -impression)
  remove      Remove a pattern (-id)
  unmatched   List unresolved unmatched findings (-study optional, -limit)
  promote     Promote an unmatched finding into a pattern (-id -impression [-pattern])

Flags:`)
	flag.PrintDefaults()
}

func listPatterns(ctx context.Context, st *store.Store) {
	patterns, err := st.ListAllPatterns(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range patterns {
		fmt.Printf("%-5d %-20s %-12s %-35q %s\n", p.ID, p.StudyType, p.Category, p.PatternText, p.ImpressionText)
	}
}

func addPattern(ctx context.Context, st *store.Store, study, category, pattern, impression string) {
	parsed, err := report.ParseStudyType(study)
	if err != nil {
		log.Fatal(err)
	}
	p, err := st.AddPattern(ctx, report.Pattern{
		StudyType:      parsed,
		Category:       category,
		PatternText:    pattern,
		ImpressionText: impression,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("added pattern %d\n", p.ID)
}

func removePattern(ctx context.Context, st *store.Store, id int64) {
	if id == 0 {
		log.Fatal("-id is required")
	}
	if err := st.RemovePattern(ctx, id); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("removed pattern %d\n", id)
}

func listUnmatched(ctx context.Context, st *store.Store, study string, limit int) {
	var parsed report.StudyType
	if study != "" {
		var err error
		parsed, err = report.ParseStudyType(study)
		if err != nil {
			log.Fatal(err)
		}
	}
	unmatched, err := st.ListUnmatched(ctx, parsed, limit)
	if err != nil {
		log.Fatal(err)
	}
	for _, u := range unmatched {
		fmt.Printf("%-5d %-20s %-12s %s  (%s)\n", u.ID, u.StudyType, u.Category, u.RawText, u.CreatedAt.Format("2006-01-02 15:04"))
	}
}

func promote(ctx context.Context, st *store.Store, id int64, pattern, impression string) {
	if id == 0 {
		log.Fatal("-id is required")
	}
	if impression == "" {
		log.Fatal("-impression is required")
	}
	p, err := st.PromoteUnmatched(ctx, id, pattern, impression)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("promoted unmatched %d to pattern %d (%s/%s %q)\n", id, p.ID, p.StudyType, p.Category, p.PatternText)
}
