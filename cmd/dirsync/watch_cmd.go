package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/dirsync/internal/syncer"
	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/openmined/dirsync/internal/watcher"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Push now and again whenever the directory changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd)
		},
	}
	cmd.Flags().Duration("debounce", watcher.DefaultDebounce, "quiet period before a change triggers a push")
	return cmd
}

func runWatch(cmd *cobra.Command) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	debounce, _ := cmd.Flags().GetDuration("debounce")

	s, closeStore, err := syncer.Open(cmd.Context(), cfg, logProgress())
	if err != nil {
		return err
	}
	defer closeStore()

	w := watcher.New(cfg.TrackedDir, watcher.WithDebounce(debounce))
	if err := w.Start(cmd.Context()); err != nil {
		return syncerr.Filesystem("watch", cfg.TrackedDir, err)
	}

	out := cmd.OutOrStdout()
	eg, egCtx := errgroup.WithContext(cmd.Context())

	eg.Go(func() error {
		return s.Watch(egCtx, w.Changes(), func(res *syncer.Result, err error) {
			printResult(out, res, err)
		})
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("received interrupt signal, stopping watch")
		w.Stop()
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
