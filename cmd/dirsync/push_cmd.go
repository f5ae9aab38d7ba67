package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/dirsync/internal/syncer"
	"github.com/openmined/dirsync/internal/transfer"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPushCmd())
}

func newPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Archive and upload the directory if it changed since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(cmd)
		},
	}
}

func runPush(cmd *cobra.Command) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	slog.Debug("config", "config", cfg)

	s, closeStore, err := syncer.Open(cmd.Context(), cfg, logProgress())
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := s.Push(cmd.Context())
	printResult(cmd.OutOrStdout(), res, err)
	return err
}

func printResult(w io.Writer, res *syncer.Result, err error) {
	if res == nil {
		return
	}
	took := res.Duration.Round(time.Millisecond)

	switch res.State {
	case syncer.Unchanged:
		fmt.Fprintf(w, "%s %s %s\n", gray.Render("unchanged"), res.Fingerprint, lightGray.Render(took.String()))
	case syncer.Done:
		detail := res.ObjectPath
		if res.Archive != nil {
			detail = fmt.Sprintf("%s (%d files, %s)", res.ObjectPath, res.Archive.Files(), humanize.Bytes(uint64(res.Archive.Size)))
		} else if res.Entries != nil {
			detail = fmt.Sprintf("%s (%d entries)", res.ObjectPath, len(res.Entries))
		}
		fmt.Fprintf(w, "%s %s %s\n", green.Render("done"), detail, lightGray.Render(took.String()))
	case syncer.Aborted:
		fmt.Fprintf(w, "%s in %s: %v\n", red.Render("aborted"), res.AbortedIn, err)
	}
}

// logProgress reports transfer progress at debug level
func logProgress() transfer.ProgressFunc {
	return func(op transfer.Op, done, total int64) {
		if total > 0 {
			slog.Debug("transfer", "op", op, "done", humanize.Bytes(uint64(done)), "total", humanize.Bytes(uint64(total)))
			return
		}
		slog.Debug("transfer", "op", op, "done", humanize.Bytes(uint64(done)))
	}
}
