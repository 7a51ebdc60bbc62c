package main

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/marketcrawler/internal/config"
)

//go:embed templates/marketcrawler.yaml templates/example.yaml
var templates embed.FS

const (
	configTemplatePath = "templates/marketcrawler.yaml"
	planTemplatePath   = "templates/example.yaml"
	examplePlanFile    = "example.yaml"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file and an example plan",
		Long: `Init writes a commented .marketcrawler configuration file and an
example crawl plan to start a new market from.

Examples:
  # Create .marketcrawler and plans/example.yaml
  marketcrawler init

  # Create config file at a specific path
  marketcrawler init -o myconfig.yaml

  # Put the example plan elsewhere and overwrite existing files
  marketcrawler init --plans ./markets -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile, "Output file path for the configuration")
	cmd.Flags().StringP("plans", "p", config.DefaultPlansDir, "Directory for the example plan")
	cmd.Flags().BoolP("force", "f", false, "Overwrite existing files")

	return cmd
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	plansDir, err := cmd.Flags().GetString("plans")
	if err != nil {
		return err
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	planPath := filepath.Join(plansDir, examplePlanFile)
	if !force {
		for _, path := range []string{outputPath, planPath} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("file already exists: %s (use -f to overwrite)", path)
			}
		}
	}

	if err := writeTemplate(configTemplatePath, outputPath); err != nil {
		return err
	}
	if err := writeTemplate(planTemplatePath, planPath); err != nil {
		return err
	}

	printNextSteps(cmd.OutOrStdout(), outputPath, planPath)
	return nil
}

// writeTemplate copies an embedded template to path, creating parent directories.
func writeTemplate(name, path string) error {
	content, err := templates.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read template: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func printNextSteps(w io.Writer, configPath, planPath string) {
	fmt.Fprintf(w, "Created configuration file: %s\n", configPath)
	fmt.Fprintf(w, "Created example plan: %s\n", planPath)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  - Copy the example plan to <market>.yaml and set its domain")
	fmt.Fprintln(w, "  - Adjust the category pages and elements to the market's HTML")
	fmt.Fprintln(w, "  - Run 'marketcrawler crawl' and enter the market name")
}
