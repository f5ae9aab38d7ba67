package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	actionPush   = "push"
	actionPull   = "pull"
	actionStatus = "status"
)

// runInteractive asks what to do when dirsync is started bare on a terminal.
func runInteractive(cmd *cobra.Command) error {
	var action string
	var dest string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("dirsync "+viper.GetString("dir")).
				Options(
					huh.NewOption("Push: upload the directory if it changed", actionPush),
					huh.NewOption("Pull: download and extract the remote archive", actionPull),
					huh.NewOption("Status: show sync records", actionStatus),
				).
				Value(&action),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Extract into").
				Placeholder("/path/to/restore").
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("a destination is required")
					}
					return nil
				}).
				Value(&dest),
		).WithHideFunc(func() bool { return action != actionPull }),
	)

	if err := form.RunWithContext(cmd.Context()); err != nil {
		return err
	}

	switch action {
	case actionPush:
		return runPush(cmd)
	case actionPull:
		return runPull(cmd, dest)
	case actionStatus:
		return runStatus(cmd)
	}
	return nil
}
