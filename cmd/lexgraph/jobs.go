package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"lexgraph-backend/app"
	"lexgraph-backend/kb"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newClusterCmd(opts *rootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Link content nodes to the statute articles their text cites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if workers > 0 {
					a.Config.Cluster.Workers = workers
				}
				res, err := a.ClusterBuilder().Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d nodes (%d failed), created %d edges, %d total\n",
					res.Processed, res.Failed, res.Created, res.Total)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel workers (default from config)")
	return cmd
}

func newRelateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relate <dir>",
		Short: "Link case-law passages in <dir>/*.jsonl to the articles they cite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.ClusterBuilder().RelateFromDir(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d passages (%d unresolved), created %d edges, %d total\n",
					res.Processed, res.Failed, res.Created, res.Total)
				return nil
			})
		},
	}
}

func newSchemaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the graph tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.CreateSchema(ctx)
			})
		},
	}
}

func newLoadKBCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load-kb <file>...",
		Short: "Load KB tree files and embed their content nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loader, err := a.Loader(ctx)
				if err != nil {
					return err
				}
				return loadFiles(ctx, a.Logger, args, func(ctx context.Context, f *os.File) error {
					root, err := kb.Parse(f)
					if err != nil {
						return err
					}
					res, err := loader.Load(ctx, root)
					if err != nil {
						return err
					}
					a.Logger.Info("document loaded",
						zap.String("document", res.Document),
						zap.Int("nodes", res.Nodes),
						zap.Int("embedded", res.Embedded),
						zap.Bool("skipped", res.Skipped),
					)
					return nil
				})
			})
		},
	}
}

func newLoadChunksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load-chunks <file>...",
		Short: "Load JSONL chunk files as document chunk chains",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loader, err := a.Loader(ctx)
				if err != nil {
					return err
				}
				return loadFiles(ctx, a.Logger, args, func(ctx context.Context, f *os.File) error {
					res, err := loader.LoadChunks(ctx, f)
					if err != nil {
						return err
					}
					a.Logger.Info("chunk file loaded",
						zap.Int("documents", res.Documents),
						zap.Int("chunks", res.Chunks),
						zap.Int("skipped", res.Skipped),
					)
					return nil
				})
			})
		},
	}
}

// loadFiles opens each path in turn. A file that fails is logged and the
// rest are still processed; the returned error counts the failures.
func loadFiles(ctx context.Context, logger *zap.Logger, paths []string, fn func(context.Context, *os.File) error) error {
	failed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("processing file", zap.String("file", filepath.Base(path)))

		if err := loadFile(ctx, path, fn); err != nil {
			failed++
			logger.Error("failed to load file", zap.String("file", path), zap.Error(err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func loadFile(ctx context.Context, path string, fn func(context.Context, *os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(ctx, f)
}
