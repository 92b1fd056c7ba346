package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zenreply/zenreply/internal/cancel"
	"github.com/zenreply/zenreply/internal/config"
	"github.com/zenreply/zenreply/internal/events"
	"github.com/zenreply/zenreply/internal/llm"
	"github.com/zenreply/zenreply/internal/prompt"
)

var (
	askRole       string
	askContext    string
	askCustomRole string
	askRaw        bool
	askCreds      llm.Credentials
)

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Stream a reply for text to the terminal",
	Long: `Ask rewrites the given text (or stdin) for the chosen audience and
streams the reply as it is generated. Press Ctrl-C to stop early.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		text := strings.Join(args, " ")
		if text == "" {
			data, err := readStdin()
			if err != nil {
				return err
			}
			text = data
		}

		msg := text
		if !askRaw {
			msg, err = prompt.Build(prompt.Input{
				Text:       text,
				Role:       prompt.Role(askRole),
				Context:    askContext,
				CustomRole: askCustomRole,
			})
			if err != nil {
				return err
			}
		}
		return ask(cmd.Context(), cfg, msg)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askRole, "role", "r", string(prompt.RoleBoss), "Audience: boss, client, greenTea, pigTeammate or custom")
	askCmd.Flags().StringVarP(&askContext, "context", "c", "", "What the other party said, or other background")
	askCmd.Flags().StringVar(&askCustomRole, "custom-role", "", "Audience description when --role=custom")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "Send the text as the prompt without the rewrite template")
	addCredentialFlags(askCmd, &askCreds)
}

func addCredentialFlags(cmd *cobra.Command, creds *llm.Credentials) {
	cmd.Flags().StringVar(&creds.APIKey, "api-key", "", "API key (default env ZENREPLY_API_KEY)")
	cmd.Flags().StringVar(&creds.APIBase, "api-base", "", "API base URL (default env ZENREPLY_API_BASE)")
	cmd.Flags().StringVar(&creds.Model, "model", "", "Model name (default env ZENREPLY_MODEL)")
}

func ask(ctx context.Context, cfg *config.Config, msg string) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	return streamReply(ctx, cfg.API, msg, askCreds, os.Stdout, os.Stderr, interrupt)
}

// streamReply prints the reply to stdout as it arrives, with a spinner on
// stderr until the first event. An interrupt cancels the stream, which
// then ends normally with whatever was already printed.
func streamReply(ctx context.Context, fallback config.API, msg string, creds llm.Credentials,
	stdout, stderr io.Writer, interrupt <-chan os.Signal) error {
	dim := color.New(color.FgHiBlack)
	red := color.New(color.FgRed)

	sp := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(stderr))
	sp.Suffix = " Thinking..."
	sp.Start()
	var stopSpinner sync.Once

	emitter := events.Funcs{Stream: func(ev events.StreamEvent) error {
		stopSpinner.Do(sp.Stop)
		switch ev.Kind {
		case events.KindDelta:
			fmt.Fprint(stdout, ev.Delta)
		case events.KindDone:
			fmt.Fprintln(stdout)
		case events.KindError:
			red.Fprintf(stderr, "✗ %s\n", ev.Message)
		}
		return nil
	}}

	client := llm.New(cancel.NewRegistry(), emitter, func() config.API { return fallback })
	requestID := uuid.NewString()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-interrupt:
			client.Cancel(requestID)
			dim.Fprintln(stderr, "  canceling...")
		case <-finished:
		}
	}()

	start := time.Now()
	err := client.StreamCompletion(ctx, requestID, msg, creds)
	stopSpinner.Do(sp.Stop)
	if err == nil {
		dim.Fprintf(stderr, "  %s\n", time.Since(start).Round(time.Millisecond))
	}
	return err
}

func readStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", fmt.Errorf("no text given: pass it as arguments or on stdin")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
