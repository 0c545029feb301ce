package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/noesis/pkg/noesis"
	"github.com/cognicore/noesis/pkg/noesis/config"
	"github.com/cognicore/noesis/pkg/noesis/explore"
	"github.com/cognicore/noesis/pkg/noesis/persist"
	"github.com/cognicore/noesis/pkg/noesis/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional)")
		corpusPath = flag.String("corpus", "", "Statements JSONL to load (optional)")
		ltmPath    = flag.String("ltm", "", "Long-term memory JSONL to load (optional)")
		dbPath     = flag.String("db", "", "Archive database for run records (optional)")
		query      = flag.String("query", "", "One-shot query (non-interactive mode)")
		seed       = flag.Uint64("seed", 0, "Request seed (0 derives one from the session)")
	)
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	engine, err := noesis.New(noesis.Options{
		Config: cfg,
		Logger: log.New(os.Stderr, "noesis: ", log.LstdFlags),
	})
	if err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	if *corpusPath != "" {
		sts, err := persist.LoadFile(*corpusPath)
		if err != nil {
			log.Fatalf("load corpus: %v", err)
		}
		for _, st := range sts {
			if _, err := engine.Ingest(st); err != nil {
				log.Fatalf("ingest %s: %v", st.ID, err)
			}
		}
		log.Printf("loaded %d statements from %s", len(sts), *corpusPath)
	}

	if *ltmPath != "" {
		eps, err := persist.LoadFile(*ltmPath)
		if err != nil {
			log.Fatalf("load ltm: %v", err)
		}
		if err := engine.LTM().Load(eps, time.Now().UnixMilli()); err != nil {
			log.Fatalf("restore ltm: %v", err)
		}
		log.Printf("restored %d episodes from %s", len(eps), *ltmPath)
	}

	var archive *sqlite.Archive
	if *dbPath != "" {
		archive, err = sqlite.Open(ctx, *dbPath)
		if err != nil {
			log.Fatalf("open archive: %v", err)
		}
		defer archive.Close()
	}

	sessionID := ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String()
	sessionSeed := explore.StableHash(sessionID)

	ask := func(prompt string, reqSeed uint64) {
		if reqSeed == 0 {
			reqSeed = explore.Mix64(sessionSeed, explore.StableHash(prompt))
		}
		res := engine.Think(prompt, reqSeed)

		fmt.Println()
		fmt.Println(res.Answer)
		fmt.Println()
		fmt.Printf("score=%.3f grounded=%.3f coverage=%.3f risk=%.3f valid=%v iterations=%d\n",
			res.Evaluation.EffectiveScore, res.Evaluation.Groundedness,
			res.Evaluation.Coverage, res.Evaluation.ContradictionRisk,
			res.Evaluation.Valid, res.Iterations)

		if archive != nil {
			if _, err := archive.RecordRun(ctx, sqlite.RunRecord{
				Prompt:       prompt,
				Answer:       res.Answer,
				Score:        res.Evaluation.EffectiveScore,
				Groundedness: res.Evaluation.Groundedness,
				Iterations:   res.Iterations,
				CreatedAt:    time.Now().UnixMilli(),
			}); err != nil {
				log.Printf("record run: %v", err)
			}
		}
	}

	// One-shot query mode
	if *query != "" {
		ask(*query, *seed)
		return
	}

	// Interactive mode
	fmt.Println("===========================================")
	fmt.Println("  Noesis CLI")
	fmt.Println("  Grounded iterative answering")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Printf("session %s, %d statements loaded\n", sessionID, engine.Store().Size())
	fmt.Println("Type your question (Ctrl+D to exit):")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		ask(prompt, *seed)
	}

	fmt.Println("\nGoodbye!")
}
