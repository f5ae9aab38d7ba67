package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/openmined/dirsync/internal/archive"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list ARCHIVE",
		Short: "List the members of a local archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := viper.GetString("password")
			if password == "" && interactive() {
				p, err := promptPassword(args[0])
				if err != nil {
					return err
				}
				password = p
			}
			cmd.SilenceUsage = true

			entries, err := archive.List(args[0], password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var total uint64
			for _, e := range entries {
				if e.IsDir {
					fmt.Fprintf(out, "%10s  %s\n", "", cyan.Render(e.Name))
					continue
				}
				total += uint64(e.Size)
				fmt.Fprintf(out, "%10s  %s\n", humanize.Bytes(uint64(e.Size)), e.Name)
			}
			fmt.Fprintln(out, gray.Render(fmt.Sprintf("%d entries, %s", len(entries), humanize.Bytes(total))))
			return nil
		},
	}
}
