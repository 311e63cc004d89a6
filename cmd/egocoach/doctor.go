package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"egocoach/internal/config"
	"egocoach/internal/memory"
	"egocoach/internal/provider"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your egocoach installation",
		Long: `Verifies that the configuration, knowledge database, and embedding
and generation backends are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("egocoach doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'egocoach init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return err
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Database opens, migrates and is writable
			if stats, err := checkDatabase(cfg.Storage.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", fmt.Sprintf("%s (%d documents, %d chunks)", cfg.Storage.DBPath, stats.documents, stats.chunks))
				passed++
			}

			// 4-5. Model backends, probed concurrently
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, r := range probeBackends(ctx, provider.NewFactory(cfg, logger)) {
				switch r.status {
				case statusPass:
					printPass(r.name, r.detail)
					passed++
				case statusWarn:
					printWarn(r.name, r.detail)
					warned++
				default:
					printFail(r.name, r.detail)
					failed++
				}
			}

			// 6. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before adding documents.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\negocoach should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! egocoach is ready.\n")
			}
			return nil
		},
	}
}

type checkStatus int

const (
	statusPass checkStatus = iota
	statusWarn
	statusFail
)

type checkResult struct {
	name   string
	status checkStatus
	detail string
}

// probeBackends checks the embedding backend and the generation chain in
// parallel. Generation only warns, since it is needed by 'ask' alone.
func probeBackends(ctx context.Context, factory *provider.Factory) []checkResult {
	results := make([]checkResult, 2)
	var g errgroup.Group

	g.Go(func() error {
		r := checkResult{name: "Embedding"}
		emb, err := factory.Embedder()
		switch {
		case err != nil:
			r.status, r.detail = statusFail, err.Error()
		default:
			if err := emb.Healthy(ctx); err != nil {
				r.status, r.detail = statusFail, fmt.Sprintf("%s: %v", emb.Name(), err)
			} else {
				r.status, r.detail = statusPass, emb.Name()
			}
		}
		results[0] = r
		return nil
	})

	g.Go(func() error {
		r := checkResult{name: "Generation"}
		if gen := factory.HealthyGenerator(ctx); gen == nil {
			r.status, r.detail = statusWarn, "no healthy generator; 'ask' will not work"
		} else {
			r.status, r.detail = statusPass, gen.Name()
		}
		results[1] = r
		return nil
	})

	_ = g.Wait()
	return results
}

type dbStats struct {
	documents, chunks int
}

// checkDatabase opens the store (running migrations) and reports its size.
func checkDatabase(dbPath string) (dbStats, error) {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return dbStats{}, err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := store.Stats(ctx)
	if err != nil {
		return dbStats{}, err
	}
	return dbStats{documents: st.Documents, chunks: st.Chunks}, nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
