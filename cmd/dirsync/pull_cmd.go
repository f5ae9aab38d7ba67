package main

import (
	"errors"

	"github.com/openmined/dirsync/internal/syncer"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newPullCmd())
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download the remote archive and extract it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, _ := cmd.Flags().GetString("dest")
			return runPull(cmd, dest)
		},
	}
	cmd.Flags().String("dest", "", "directory to extract into (required)")
	return cmd
}

func runPull(cmd *cobra.Command, dest string) error {
	if dest == "" {
		return errors.New("--dest is required")
	}
	dest, err := utils.ResolvePath(dest)
	if err != nil {
		return err
	}

	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	s, closeStore, err := syncer.Open(cmd.Context(), cfg, logProgress())
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := s.Pull(cmd.Context(), dest)
	printResult(cmd.OutOrStdout(), res, err)
	return err
}
