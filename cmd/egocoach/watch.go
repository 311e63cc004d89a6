package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"egocoach/internal/watch"

	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var (
		existing bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Add new .txt, .md and .pdf files from a directory as they appear",
		Long: `Watches a directory and ingests every new document once it stops changing.
Files whose name matches an existing document title are skipped, so restarting
the watcher does not duplicate documents. Later edits are not re-embedded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.engine.GetDocuments(cmd.Context())
			if err != nil {
				return err
			}
			var mu sync.Mutex
			known := make(map[string]bool, len(docs))
			for _, d := range docs {
				known[d.Title] = true
			}

			out := cmd.OutOrStdout()
			w := watch.New(watch.Config{
				Dir:            args[0],
				Debounce:       debounce,
				IngestExisting: existing,
				Logger:         logger,
				Accept: func(path string) bool {
					mu.Lock()
					defer mu.Unlock()
					return supportedDocument(path) && !known[filepath.Base(path)]
				},
				Ingest: func(ctx context.Context, path string) error {
					content, err := readDocument(path)
					if err != nil {
						return err
					}
					title := filepath.Base(path)
					res, err := a.engine.AddDocument(ctx, title, content, nil)
					if res != nil {
						mu.Lock()
						known[title] = true
						mu.Unlock()
						fmt.Fprintf(out, "Added %s as document %d: %d chunks stored, %d failed\n", title, res.DocID, res.Stored, res.Failed)
					}
					return err
				},
			})

			ctx, stop := signalContext()
			defer stop()
			return w.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&existing, "existing", true, "also add documents already in the directory")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "how long a file must be unchanged before it is added")
	return cmd
}
