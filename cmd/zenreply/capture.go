package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/zenreply/zenreply/internal/capture"
	"github.com/zenreply/zenreply/internal/platform"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Copy the current selection in the focused app and print it",
	Long: `Capture sends the copy shortcut to the focused application and waits
for the clipboard to change, exactly as the hotkey does. Run it from a
launcher or window-manager binding so the target app keeps focus.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		engine := capture.NewEngine(platform.SystemClipboard{}, platform.NewExecKeystroker(), cfg.Capture, cfg.IsMac())
		text := engine.CaptureSelectedText()
		if text == "" {
			color.New(color.FgYellow).Fprintln(os.Stderr, "nothing captured")
			return nil
		}
		fmt.Fprintln(os.Stdout, text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(captureCmd)
}
