package main

import (
	"egocoach/internal/knowledge"
	"egocoach/internal/mcpserver"

	"github.com/spf13/cobra"
)

func mcpCmd() *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the knowledge base to MCP clients (stdio by default)",
		Long: `Starts a Model Context Protocol server with a "search" tool, an "ask"
tool when a generator is configured, and an egocoach://documents resource.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ports := mcpserver.Ports{Searcher: a.engine, TopK: a.cfg.Knowledge.SearchTopK}
			if gen, err := a.factory.Generator(); err != nil {
				logger.Warn("no generator available, ask tool disabled", "err", err)
			} else {
				ports.Asker = knowledge.NewAugmenter(knowledge.AugmenterConfig{
					Engine:       a.engine,
					Generator:    gen,
					TopK:         a.cfg.Knowledge.SearchTopK,
					MinScore:     a.cfg.Knowledge.MinScore,
					SystemPrompt: a.cfg.Knowledge.SystemPrompt,
					Logger:       logger,
				})
			}

			srv, err := mcpserver.NewServer(ports, version, logger)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			if httpAddr != "" {
				return srv.RunHTTP(ctx, httpAddr)
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "serve streamable HTTP on this address instead of stdio (e.g. 127.0.0.1:8765)")
	return cmd
}
