package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ashureev/catalyze/internal/app"
	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/generation"
	"github.com/spf13/cobra"
)

var errGenerationFailed = errors.New("no attempt passed simulation")

func newGenerateCmd(c *cli) *cobra.Command {
	var (
		platform   string
		maxRetries int
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "generate INSTRUCTIONS...",
		Short: "Generate an Opentrons protocol and retry until it passes simulation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instructions := strings.TrimSpace(strings.Join(args, " "))
			if instructions == "" {
				return errors.New("instructions are empty")
			}
			ctx := cmd.Context()

			completer, closeLLM := app.NewCompleter(c.cfg, c.logger)
			defer func() { _ = closeLLM(ctx) }()
			sim, closeSim := app.NewSimulator(ctx, c.cfg.Simulator, c.logger)
			defer func() { _ = closeSim(ctx) }()

			pipeline := app.NewPipeline(c.cfg, completer, sim, nil, c.logger)
			p := domain.DetectPlatform(platform, instructions, domain.ParsePlatform(c.cfg.DefaultPlatform))

			progress := cmd.ErrOrStderr()
			session, err := pipeline.Run(ctx, generation.Request{
				Instructions: instructions,
				Platform:     p,
				MaxRetries:   maxRetries,
			}, func(a domain.GenerationAttempt) {
				status := "passed"
				if !a.Validation.Success {
					status = fmt.Sprintf("failed (%d errors)", len(a.Validation.Errors))
				}
				fmt.Fprintf(progress, "attempt %d: %s\n", a.Index+1, status)
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.jsonOut {
				if err := writeJSON(out, session); err != nil {
					return err
				}
			} else if err := writeSession(c, out, session, outPath); err != nil {
				return err
			}
			if session.Status != domain.StatusSuccess {
				return errGenerationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "target platform: ot2, flex, or other (detected from the instructions when empty)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "retries after the first attempt (negative uses GENERATION_MAX_RETRIES)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the final protocol to this file instead of stdout")
	return cmd
}

func writeSession(c *cli, out io.Writer, s *domain.GenerationSession, outPath string) error {
	last, ok := s.Last()
	if !ok {
		fmt.Fprintf(out, "session %s produced no attempts: %s\n", s.ID, s.FailureReason)
		return nil
	}
	if s.Status != domain.StatusSuccess {
		fmt.Fprintf(out, "# session %s failed after %d attempts\n", s.ID, len(s.Attempts))
		writeSection(out, "Errors", last.Validation.Errors)
		writeSection(out, "Suggestions", last.Validation.Suggestions)
	}
	if outPath == "" {
		fmt.Fprintln(out, last.Code)
		return nil
	}
	if err := os.WriteFile(outPath, []byte(last.Code), 0o644); err != nil {
		return fmt.Errorf("write protocol: %w", err)
	}
	c.logger.Info("Protocol written", "path", outPath, "session_id", s.ID)
	fmt.Fprintf(out, "wrote %s (session %s)\n", outPath, s.ID)
	return nil
}
