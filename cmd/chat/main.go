// Package main is the terminal chat client. It fans a prompt out to one or
// more models and streams the answers to stdout.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chat-orchestrator/internal/app"
	"github.com/capitalize-ai/chat-orchestrator/internal/catalog"
	"github.com/capitalize-ai/chat-orchestrator/internal/config"
	"github.com/capitalize-ai/chat-orchestrator/internal/llm"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
)

// backendFunc builds the completion client; tests replace it.
type backendFunc func(cfg *config.Config, log *logger.Logger) (llm.Client, *catalog.Catalog, error)

func defaultBackend(cfg *config.Config, log *logger.Logger) (llm.Client, *catalog.Catalog, error) {
	b, err := app.NewBackend(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return b.Router, b.Catalog, nil
}

type rootOptions struct {
	models  []string
	verbose bool
}

func main() {
	if err := newRootCmd(defaultBackend).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(backend backendFunc) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "chat",
		Short:         "Chat with one or more models from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringArrayVarP(&opts.models, "model", "m", nil, "model to ask (repeatable)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newAskCmd(opts, backend),
		newReplCmd(opts, backend),
		newModelsCmd(opts, backend),
	)
	return root
}

func setup(cmd *cobra.Command, opts *rootOptions, backend backendFunc) (*chat, []string, error) {
	cfg := config.Load()

	log := logger.NewNop()
	if opts.verbose {
		l, err := logger.NewDevelopment()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create logger: %w", err)
		}
		log = l
	}

	client, cat, err := backend(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	models := opts.models
	if len(models) == 0 {
		models = cat.DefaultSelection(cfg.DefaultModels)
	}

	c := newChat(client, cat, chatOptions{
		maxTokens:            cfg.MaxTokens,
		maxConcurrentStreams: cfg.MaxConcurrentStreams,
	}, log, cmd.OutOrStdout())
	return c, models, nil
}

func newAskCmd(opts *rootOptions, backend backendFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt and print the answers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, models, err := setup(cmd, opts, backend)
			if err != nil {
				return err
			}
			defer c.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.turn(ctx, strings.Join(args, " "), models)
		},
	}
}

func newReplCmd(opts *rootOptions, backend backendFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Hold a conversation; /new starts over, /models a,b switches models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, models, err := setup(cmd, opts, backend)
			if err != nil {
				return err
			}
			defer c.close()

			return repl(cmd.Context(), c, models, cmd.InOrStdin(), cmd.ErrOrStderr())
		},
	}
}

func repl(ctx context.Context, c *chat, models []string, in io.Reader, prompt io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(prompt, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/new":
			c.orch.Reset()
			fmt.Fprintln(prompt, "new chat")
			continue
		case strings.HasPrefix(line, "/models"):
			if ids := splitModels(strings.TrimPrefix(line, "/models")); len(ids) > 0 {
				models = ids
			}
			fmt.Fprintf(prompt, "models: %s\n", strings.Join(models, ", "))
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := c.turn(turnCtx, line, models)
		stop()
		if err != nil {
			fmt.Fprintf(prompt, "error: %v\n", err)
		}
	}
}

func splitModels(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func newModelsCmd(opts *rootOptions, backend backendFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, models, err := setup(cmd, opts, backend)
			if err != nil {
				return err
			}
			defer c.close()

			selected := make(map[string]bool, len(models))
			for _, id := range models {
				selected[id] = true
			}

			out := cmd.OutOrStdout()
			for _, m := range c.catalog.Visible() {
				mark := " "
				if selected[m.ID] {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-32s %-10s %s\n", mark, m.ID, m.Provider, m.Name)
			}
			return nil
		},
	}
}
