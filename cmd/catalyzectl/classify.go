package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/catalyze/internal/app"
	"github.com/ashureev/catalyze/internal/domain"
	"github.com/spf13/cobra"
)

func newClassifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "classify QUERY...",
		Short: "Run the guardrail and intent classifier on a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("query is empty")
			}

			completer, closeLLM := app.NewCompleter(c.cfg, c.logger)
			defer func() { _ = closeLLM(cmd.Context()) }()

			cl, err := app.NewClassifier(c.cfg, completer, c.logger)
			if err != nil {
				return err
			}
			res := cl.Classify(cmd.Context(), domain.Query{Text: query})

			out := cmd.OutOrStdout()
			if c.jsonOut {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "intent:     %s\n", res.Intent)
			fmt.Fprintf(out, "confidence: %.2f\n", res.Confidence)
			fmt.Fprintf(out, "reasoning:  %s\n", res.Reasoning)
			if res.Rejected {
				fmt.Fprintln(out, "rejected:   true")
			}
			if len(res.Entities) > 0 {
				fmt.Fprintf(out, "entities:   %s\n", strings.Join(res.Entities, ", "))
			}
			for _, s := range res.SecondaryIntents {
				fmt.Fprintf(out, "secondary:  %s (%.2f)\n", s.Intent, s.Score)
			}
			return nil
		},
	}
}
