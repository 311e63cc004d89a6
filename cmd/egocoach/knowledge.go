package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"egocoach/internal/config"
	"egocoach/internal/domain"
	"egocoach/internal/knowledge"
	"egocoach/internal/memory"
	"egocoach/internal/provider"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// app bundles what the knowledge commands share.
type app struct {
	cfg     *config.Config
	store   *memory.SQLiteStore
	factory *provider.Factory
	engine  *knowledge.Engine
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: %w", err)
	}
	factory := provider.NewFactory(cfg, logger)
	emb, err := factory.Embedder()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}
	overlap := cfg.Knowledge.ChunkOverlap
	if overlap == 0 {
		overlap = knowledge.NoOverlap
	}
	engine := knowledge.NewEngine(knowledge.EngineConfig{
		Store:     store,
		Embedder:  emb,
		ChunkSize: cfg.Knowledge.ChunkSize,
		Overlap:   overlap,
		Logger:    logger,
	})
	return &app{cfg: cfg, store: store, factory: factory, engine: engine}, nil
}

func (a *app) Close() error { return a.store.Close() }

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func addCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Add a .txt, .md or .pdf document to the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readDocument(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = filepath.Base(args[0])
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			// Ctrl+C stops before the next chunk; stored chunks are kept.
			ctx, stop := signalContext()
			defer stop()

			res, err := a.engine.AddDocument(ctx, title, content, progressPrinter(cmd.ErrOrStderr(), title))
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Document %d: %d chunks stored, %d failed\n", res.DocID, res.Stored, res.Failed)
			}
			if err != nil {
				return err
			}
			if res.Partial() {
				logger.Warn("document partially ingested; search will only see stored chunks", "doc_id", res.DocID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title (default: file name)")
	return cmd
}

func docsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List documents in the knowledge base",
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
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents yet. Add one with 'egocoach add <file>'.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tADDED\tCHUNKS")
			for _, d := range docs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", d.ID, d.Title, d.DateAdded.Local().Format("2006-01-02 15:04"), d.ChunkCount)
			}
			return tw.Flush()
		},
	}
}

func searchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if k <= 0 {
				k = a.cfg.Knowledge.SearchTopK
			}
			results, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.3f] %s (chunk %d)\n   %s\n\n",
					i+1, r.Score, r.DocTitle, r.Chunk.Index, preview(r.Chunk.Text, 200))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 0, "number of results (default: knowledge.searchTopK)")
	return cmd
}

func askCmd() *cobra.Command {
	var k int
	var showSources bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question using relevant knowledge as context",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			gen, err := a.factory.Generator()
			if err != nil {
				return fmt.Errorf("generator: %w", err)
			}
			if k <= 0 {
				k = a.cfg.Knowledge.SearchTopK
			}
			aug := knowledge.NewAugmenter(knowledge.AugmenterConfig{
				Engine:       a.engine,
				Generator:    gen,
				TopK:         k,
				MinScore:     a.cfg.Knowledge.MinScore,
				SystemPrompt: a.cfg.Knowledge.SystemPrompt,
				Logger:       logger,
			})

			ctx, stop := signalContext()
			defer stop()
			ans, err := aug.Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ans.Content)
			if showSources && len(ans.Sources) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "\nSources:")
				for _, s := range ans.Sources {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s (chunk %d, score %.3f)\n", s.DocTitle, s.Chunk.Index, s.Score)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 0, "number of knowledge chunks to include")
	cmd.Flags().BoolVar(&showSources, "sources", true, "list the chunks used as context")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.DeleteDocument(cmd.Context(), id); err != nil {
				if errors.Is(err, domain.ErrDocumentNotFound) {
					return fmt.Errorf("no document with id %d", id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted document %d\n", id)
			return nil
		},
	}
}

// progressPrinter redraws one line on a terminal and otherwise prints only
// every 25th percent, so logs stay readable.
func progressPrinter(w io.Writer, title string) knowledge.ProgressFunc {
	f, ok := w.(*os.File)
	if ok && term.IsTerminal(int(f.Fd())) {
		return func(p int) {
			fmt.Fprintf(w, "\rEmbedding %q: %3d%%", title, p)
			if p == 100 {
				fmt.Fprintln(w)
			}
		}
	}
	last := -1
	return func(p int) {
		if step := p / 25; step > last {
			last = step
			fmt.Fprintf(w, "Embedding %q: %d%%\n", title, p)
		}
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
