package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/zenreply/zenreply/internal/cancel"
	"github.com/zenreply/zenreply/internal/config"
	"github.com/zenreply/zenreply/internal/events"
	"github.com/zenreply/zenreply/internal/llm"
)

var testCreds llm.Credentials

var testConnectionCmd = &cobra.Command{
	Use:   "test-connection",
	Short: "Check that the API key, base URL and model work",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := llm.New(cancel.NewRegistry(), events.Discard, func() config.API { return cfg.API })
		msg, err := client.TestConnection(cmd.Context(), testCreds)
		if err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "✗ %v\n", err)
			return err
		}
		color.New(color.FgGreen).Fprintf(os.Stderr, "✓ %s\n", msg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testConnectionCmd)
	addCredentialFlags(testConnectionCmd, &testCreds)
}
