package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor    bool
	masterMode bool
)

var rootCmd = &cobra.Command{
	Use:           "chronicle",
	Short:         "Shared log of a tabletop campaign",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&masterMode, "master", false, "game master mode: allow commands that change the campaign")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(listCmd, showCmd, addCmd, editCmd, removeCmd, reorderCmd)
	rootCmd.AddCommand(suggestCmd, recordCmd, avatarCmd, mapCmd)
	rootCmd.AddCommand(backupCmd, settingsCmd, joinCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// requireMaster guards commands that change the campaign. Master mode is a
// client-side convention; the server does not enforce it.
func requireMaster() error {
	if !masterMode {
		return fmt.Errorf("this command changes the campaign; rerun with --master")
	}
	return nil
}
