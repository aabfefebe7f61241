package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"lexgraph-backend/app"
	"lexgraph-backend/service"

	"github.com/spf13/cobra"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask",
		Short: "Answer questions read from stdin until the exit word or EOF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agent, err := a.Agent(ctx)
				if err != nil {
					return err
				}
				return askLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), agent, a.Config.Agent.ExitSentinel)
			})
		},
	}
}

type asker interface {
	Ask(ctx context.Context, req service.AskRequest) (*service.AskResult, error)
}

// askLoop answers one question per input line. It stops at EOF, at a line
// equal to sentinel ignoring case, or when ctx is done between questions.
// A question that fails is reported and the loop moves on. Blank lines are
// ignored.
func askLoop(ctx context.Context, in io.Reader, out io.Writer, agent asker, sentinel string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, "Domanda: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if strings.EqualFold(question, sentinel) {
			return nil
		}

		res, err := agent.Ask(ctx, service.AskRequest{Question: question})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			fmt.Fprintf(out, "Errore: %v\n", err)
			continue
		}
		printResult(out, res)
	}
}

func printResult(out io.Writer, res *service.AskResult) {
	switch res.Status {
	case service.StatusAnswered:
		fmt.Fprintf(out, "%s\n", res.Answer)
		if res.TranscriptKey != "" {
			fmt.Fprintf(out, "(transcript %s)\n", res.TranscriptKey)
		}
	case service.StatusProtocolViolation:
		fmt.Fprintf(out, "Nessuna risposta: il modello non ha usato alcuna direttiva (iterazione %d)\n", res.Iterations)
	case service.StatusMaxIterations:
		fmt.Fprintf(out, "Nessuna risposta dopo %d iterazioni\n", res.Iterations)
	}
}
