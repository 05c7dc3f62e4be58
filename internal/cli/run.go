package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"citygen/internal/bootstrap"
	"citygen/internal/infra"
	"citygen/internal/pipeline"
)

func RunCmd(flags *globalFlags) *cobra.Command {
	var (
		output        string
		maxIterations int
		verbose       bool
	)
	cmd := &cobra.Command{
		Use:   "run <concept.yaml>",
		Short: "Run the full pipeline for a concept and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := LoadConcept(args[0])
			if err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			if maxIterations > 0 {
				cfg.MaxIterations = maxIterations
			}

			logOut := io.Discard
			if verbose {
				logOut = cmd.ErrOrStderr()
			}
			logger := infra.NewLoggerTo(logOut, cfg.AppEnv)
			rt, err := bootstrap.Build(cfg, &logger)
			if err != nil {
				return err
			}

			outcome := rt.Orchestrator.Run(cmd.Context(), concept)
			raw, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return fmt.Errorf("encode outcome: %w", err)
			}
			if output != "" {
				if err := os.WriteFile(output, raw, 0o644); err != nil {
					return fmt.Errorf("write outcome: %w", err)
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			}
			if !outcome.Succeeded() {
				return fmt.Errorf("run ended %s: %s", outcome.Status, outcome.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the outcome JSON to a file instead of stdout")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override MAX_ITERATIONS")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	return cmd
}

func PlanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <concept.yaml>",
		Short: "Produce only the plan and asset catalogue for a concept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			concept, err := LoadConcept(args[0])
			if err != nil {
				return err
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			logger := infra.NewLoggerTo(io.Discard, cfg.AppEnv)
			rt, err := bootstrap.Build(cfg, &logger)
			if err != nil {
				return err
			}
			plan, err := rt.Planner.Plan(cmd.Context(), concept)
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Plan  any `json:"plan"`
				Queue int `json:"queued_instances"`
			}{Plan: plan, Queue: pipeline.InstanceCount(plan.Catalogue)})
		},
	}
}
