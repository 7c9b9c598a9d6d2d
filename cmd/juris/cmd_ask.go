package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"juris/internal/agent"
	"juris/internal/llm"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

const askWordWrap = 100

func (c *cli) askCmd() *cobra.Command {
	var persona string
	var raw bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a persona one question",
		Long: `Sends one question to the configured model and prints the answer.

On a terminal the answer streams to stderr while it is generated and the
finished Markdown is rendered to stdout. With --raw, or when stdout is not
a terminal, the plain Markdown streams to stdout.

Example:
  juris ask --persona risk "Is a verbal lease enforceable?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := loadRegistry(c.cfg)
			if err != nil {
				return err
			}
			client, err := llm.NewClient(cmd.Context(), c.cfg.LLM)
			if err != nil {
				return err
			}
			runner := agent.NewRunner(client, registry, c.cfg.Chat.HistoryWindow)
			question := strings.Join(args, " ")

			out := cmd.OutOrStdout()
			if raw || !isTerminal(os.Stdout) {
				_, err := ask(cmd.Context(), runner, persona, question, out)
				if err == nil {
					fmt.Fprintln(out)
				}
				return err
			}
			answer, err := ask(cmd.Context(), runner, persona, question, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr())
			return renderMarkdown(out, answer)
		},
	}
	cmd.Flags().StringVarP(&persona, "persona", "p", agent.PersonaConsultation, "Persona key")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print plain Markdown without terminal rendering")
	return cmd
}

// ask streams the answer to live and returns the whole text.
func ask(ctx context.Context, runner *agent.Runner, persona, question string, live io.Writer) (string, error) {
	chunks, errs, err := runner.Stream(ctx, persona, nil, question, nil)
	if err != nil {
		return "", err
	}
	var answer strings.Builder
	for chunk := range chunks {
		answer.WriteString(chunk.Delta)
		if _, err := io.WriteString(live, chunk.Delta); err != nil {
			// keep draining so the client goroutine can exit
			live = io.Discard
		}
	}
	if err := <-errs; err != nil {
		return answer.String(), fmt.Errorf("answer failed: %w", err)
	}
	return answer.String(), nil
}

func renderMarkdown(w io.Writer, md string) error {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(askWordWrap),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render answer: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
