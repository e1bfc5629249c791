package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ThirdKeyAI/symbiont-sched/internal/config"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactively write a starter configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			outPath, _ := cmd.Flags().GetString("output")
			if outPath == "" {
				outPath = "symsched.yaml"
			}
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", outPath)
			}

			var (
				environment = "production"
				bind        = "127.0.0.1:8080"
				token       string
				logFormat   = "text"
				localOutput = true
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewSelect[string]().
						Title("Deployment environment").
						Description("Jobs with allowed_environments only fire when it matches.").
						Options(
							huh.NewOption("production", "production"),
							huh.NewOption("staging", "staging"),
							huh.NewOption("development", "development"),
						).
						Value(&environment),
					huh.NewInput().
						Title("Admin API bind address").
						Value(&bind),
					huh.NewInput().
						Title("Admin API bearer token").
						Description("Leave empty to keep the admin API unmounted.").
						EchoMode(huh.EchoModePassword).
						Value(&token),
					huh.NewSelect[string]().
						Title("Log format").
						Options(
							huh.NewOption("text", "text"),
							huh.NewOption("json", "json"),
						).
						Value(&logFormat),
					huh.NewConfirm().
						Title("Deliver run results to stdout?").
						Value(&localOutput),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			content := starterConfig(environment, bind, token, logFormat, localOutput)
			if dir := filepath.Dir(outPath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(outPath, []byte(content), 0o600); err != nil {
				return err
			}

			// Round-trip through the loader so a broken template never ships.
			cfg, err := config.Load(outPath)
			if err != nil {
				return fmt.Errorf("generated config does not load: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("generated config does not validate: %w", err)
			}

			fmt.Printf("Wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Destination path (default symsched.yaml)")
	return cmd
}

func starterConfig(environment, bind, token, logFormat string, localOutput bool) string {
	content := fmt.Sprintf(`version: "1"
environment: %s

log:
  level: info
  format: %s

modules:
  store.sqlite: {}

  dispatch:
    tick_interval: 1s
    max_jitter: 5s
    global_max_in_flight: 16
    default_max_retries: 3

  delivery.router: {}
`, environment, logFormat)

	if localOutput {
		content += "\n  delivery.local: {}\n"
	}

	content += fmt.Sprintf(`
  gateway.http:
    bind: %q
`, bind)
	if token != "" {
		content += fmt.Sprintf(`    auth:
      bearer_token: %q
`, token)
	}
	return content
}
