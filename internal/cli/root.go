// Package cli implements the citygen command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"citygen/internal/domain"
	"citygen/internal/infra"
)

// Version is stamped at build time with -ldflags "-X citygen/internal/cli.Version=...".
var Version = "dev"

func Execute(ctx context.Context) error {
	return NewRoot().ExecuteContext(ctx)
}

type globalFlags struct {
	offline bool
	storage string
}

func NewRoot() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "citygen",
		Short:         "Generate quality-gated 3D city scenes from a concept",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flags.offline, "offline", false, "Use deterministic local collaborators instead of model endpoints")
	root.PersistentFlags().StringVar(&flags.storage, "storage", "", "Directory for generated media (overrides STORAGE_PATH)")
	root.AddCommand(
		RunCmd(flags),
		PlanCmd(flags),
		VersionCmd(),
	)
	return root
}

func (f *globalFlags) config() (*infra.Config, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	if f.offline {
		cfg.Offline = true
	}
	if f.storage != "" {
		cfg.StoragePath = f.storage
	}
	return cfg, nil
}

// LoadConcept reads a YAML (or JSON) concept file.
func LoadConcept(path string) (domain.Concept, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Concept{}, fmt.Errorf("read concept: %w", err)
	}
	var concept domain.Concept
	if err := yaml.Unmarshal(raw, &concept); err != nil {
		return domain.Concept{}, fmt.Errorf("parse concept %s: %w", path, err)
	}
	if err := concept.Validate(); err != nil {
		return domain.Concept{}, err
	}
	return concept, nil
}

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the citygen version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
