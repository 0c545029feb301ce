package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/cognicore/noesis/pkg/noesis"
	"github.com/cognicore/noesis/pkg/noesis/config"
	"github.com/cognicore/noesis/pkg/noesis/persist"
	"github.com/cognicore/noesis/pkg/noesis/store/sqlite"
)

// corpus-ingest loads raw text or statement JSONL into the knowledge
// store, then exports a sorted snapshot and optionally an archive db.
func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional)")
		inPath     = flag.String("in", "", "Statements JSONL to ingest (optional)")
		textPath   = flag.String("text", "", "Plain text file to learn from (optional)")
		tag        = flag.String("tag", "doc", "Tag for learned statements")
		outPath    = flag.String("out", "", "Snapshot JSONL to write (required)")
		dbPath     = flag.String("db", "", "Archive database to update (optional)")
	)
	flag.Parse()

	if *outPath == "" {
		log.Fatal("--out required")
	}
	if *inPath == "" && *textPath == "" {
		log.Fatal("--in or --text required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	engine, err := noesis.New(noesis.Options{Config: cfg})
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	if *inPath != "" {
		sts, err := persist.LoadFile(*inPath)
		if err != nil {
			log.Fatalf("load %s: %v", *inPath, err)
		}
		for _, st := range sts {
			if _, err := engine.Ingest(st); err != nil {
				log.Fatalf("ingest %s: %v", st.ID, err)
			}
		}
		log.Printf("ingested %d statements from %s", len(sts), *inPath)
	}

	if *textPath != "" {
		data, err := os.ReadFile(*textPath)
		if err != nil {
			log.Fatalf("read %s: %v", *textPath, err)
		}
		learned, err := engine.LearnFromText(string(data), *tag)
		if err != nil {
			log.Fatalf("learn: %v", err)
		}
		log.Printf("learned %d statements from %s", len(learned), *textPath)
	}

	snapshot := engine.Store().SnapshotSorted()
	if err := persist.SaveFile(*outPath, snapshot); err != nil {
		log.Fatalf("write snapshot: %v", err)
	}
	log.Printf("wrote %d statements to %s", len(snapshot), *outPath)

	if *dbPath != "" {
		ctx := context.Background()
		archive, err := sqlite.Open(ctx, *dbPath)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer archive.Close()
		if err := archive.SaveStatements(ctx, snapshot); err != nil {
			log.Fatalf("archive snapshot: %v", err)
		}
		log.Printf("archived snapshot to %s", *dbPath)
	}
}
