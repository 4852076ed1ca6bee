package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ashureev/catalyze/internal/app"
	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/generation"
	"github.com/spf13/cobra"
)

var (
	errPrecheckFailed   = errors.New("precheck failed")
	errValidationFailed = errors.New("validation failed")
)

type precheckReport struct {
	Platform   domain.Platform          `json:"platform"`
	SlotErrors []string                 `json:"slot_errors"`
	Script     generation.ScriptCheck   `json:"script"`
	Summary    generation.ScriptSummary `json:"summary"`
}

func newPrecheckCmd(c *cli) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "precheck FILE",
		Short: "Check a protocol's deck slots and scaffolding without simulating it",
		Long:  "Check a protocol's deck slots and scaffolding without simulating it. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readProtocol(cmd, args[0])
			if err != nil {
				return err
			}
			p := c.platform(platform)
			slotErrs := generation.PrecheckDeckSlots(code, p)
			report := precheckReport{
				Platform:   p,
				SlotErrors: slotErrs,
				Script:     generation.CheckScript(code),
				Summary:    generation.Summarize(code),
			}
			if report.SlotErrors == nil {
				report.SlotErrors = []string{}
			}

			out := cmd.OutOrStdout()
			if c.jsonOut {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "platform: %s\n", p)
				writeSection(out, "Slot errors", report.SlotErrors)
				writeSection(out, "Warnings", report.Script.Warnings)
				writeSection(out, "Suggestions", report.Script.Suggestions)
				fmt.Fprintf(out, "transfers: %d, mixes: %d, estimated duration: %s\n",
					report.Summary.Transfers, report.Summary.Mixes, report.Summary.EstimatedDuration)
			}
			if len(slotErrs) > 0 {
				return errPrecheckFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "target platform: ot2, flex, or other (default DEFAULT_PLATFORM)")
	return cmd
}

func newValidateCmd(c *cli) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Precheck and simulate a protocol with the configured simulator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readProtocol(cmd, args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sim, closeSim := app.NewSimulator(ctx, c.cfg.Simulator, c.logger)
			defer func() { _ = closeSim(ctx) }()

			v := generation.NewValidator(sim, generation.ValidatorConfig{Timeout: c.cfg.Simulator.Timeout}, c.logger)
			res, outcome, err := v.Check(ctx, code, c.platform(platform))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if c.jsonOut {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "outcome: %s\n", outcome)
				if res.Simulated {
					fmt.Fprintf(out, "simulation time: %s\n", res.SimulationTime)
				}
				writeSection(out, "Errors", res.Errors)
				writeSection(out, "Warnings", res.Warnings)
				writeSection(out, "Suggestions", res.Suggestions)
			}
			if !res.Success {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "target platform: ot2, flex, or other (default DEFAULT_PLATFORM)")
	return cmd
}

func (c *cli) platform(flag string) domain.Platform {
	if flag == "" {
		flag = c.cfg.DefaultPlatform
	}
	return domain.ParsePlatform(flag)
}

func readProtocol(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read protocol: %w", err)
	}
	return string(data), nil
}
