package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/openmined/dirsync/internal/config"
	"github.com/openmined/dirsync/internal/fingerprint"
	"github.com/openmined/dirsync/internal/state"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const statusWorkers = 4

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recorded sync points and whether the directory changed since",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

func runStatus(cmd *cobra.Command) error {
	dbPath := viper.GetString("state_db")
	if dbPath == "" {
		dbPath = config.DefaultStateDBPath
	}
	dbPath, err := utils.ResolvePath(dbPath)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	store, err := state.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureInitialized(cmd.Context()); err != nil {
		return err
	}
	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	states, err := recordStates(cmd.Context(), records, fingerprint.Compute)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	renderRecords(out, records, states)

	dir := viper.GetString("dir")
	if dir == "" {
		return nil
	}
	if dir, err = utils.ResolvePath(dir); err != nil {
		return err
	}

	current, err := fingerprint.Compute(dir)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(out, "%s %s\n", yellow.Render("missing"), dir)
		return nil
	} else if err != nil {
		return err
	}
	stored, ok, err := store.Get(cmd.Context(), dir)
	if err != nil {
		return err
	}

	switch {
	case !ok:
		fmt.Fprintf(out, "%s %s %s\n", yellow.Render("never synced"), dir, lightGray.Render(current))
	case stored == current:
		fmt.Fprintf(out, "%s %s\n", green.Render("up to date"), dir)
	default:
		fmt.Fprintf(out, "%s %s %s\n", cyan.Render("changed"), dir, lightGray.Render(stored+" -> "+current))
	}
	return nil
}

// recordStates fingerprints every recorded directory and compares it to its
// stored value.
func recordStates(ctx context.Context, records []state.Record, compute fingerprint.Func) ([]string, error) {
	states := make([]string, len(records))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(statusWorkers)

	for i, r := range records {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			current, err := compute(r.Path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				states[i] = "missing"
			case err != nil:
				states[i] = "unreadable"
			case current == r.Fingerprint:
				states[i] = "up to date"
			default:
				states[i] = "changed"
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

func renderRecords(w io.Writer, records []state.Record, states []string) {
	if len(records) == 0 {
		fmt.Fprintln(w, gray.Render("no sync records"))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		Headers("PATH", "FINGERPRINT", "COMMITTED", "STATE")
	for i, r := range records {
		committed := ""
		if !r.UpdatedAt.IsZero() {
			committed = r.UpdatedAt.Local().Format(time.DateTime)
		}
		t.Row(r.Path, r.Fingerprint, committed, states[i])
	}
	fmt.Fprintln(w, t.Render())
}
