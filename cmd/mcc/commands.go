package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"mcc/internal/artifact"
	"mcc/internal/config"
	"mcc/internal/logging"
	"mcc/internal/process"
	"mcc/internal/runner/tmux"
	"mcc/internal/version"
	"mcc/internal/workspace"

	"github.com/spf13/cobra"
)

func newAttachCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Reattach the terminal to a running session's agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			id := strings.TrimPrefix(args[0], "session_")
			ws, err := workspace.Find(cfg.Session.BaseDir, id)
			if err != nil {
				return err
			}
			if pid := workspace.LockHolder(ws.Dir); pid == 0 || !process.Alive(pid) {
				return fmt.Errorf("session %s is not running", id)
			}
			name := ws.SessionName()
			exists, err := app.hasTmuxSession(name)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("session %s has no tmux terminal to attach to", id)
			}
			return app.runInteractive(cmd.Context(), tmux.AttachCommand(name, app.getenv("TMUX") != ""))
		},
	}
}

func newExportCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export a model file to STL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			qualityFlag, _ := cmd.Flags().GetString("quality")
			quality, err := artifact.ParseQuality(qualityFlag)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".stl"
			}
			exporter := toolchain(app, cfg)
			if err := exporter.ExportTo(cmd.Context(), args[0], output, quality); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Exported %s (%s quality)\n", output, quality)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output STL path (default <path>.stl)")
	cmd.Flags().String("quality", string(artifact.QualityStandard), "mesh quality: draft, standard, high or ultra")
	return cmd
}

func newValidateCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a model or mesh for printability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			report, err := toolchain(app, cfg).Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(app.stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(report); err != nil {
				return err
			}
			if !report.IsValid {
				return fmt.Errorf("%s has %d issue(s)", args[0], len(report.Issues))
			}
			return nil
		},
	}
}

func newRepairCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair <path>",
		Short: "Repair mesh defects in place",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			aggressive, _ := cmd.Flags().GetBool("aggressive")
			if err := toolchain(app, cfg).Repair(cmd.Context(), args[0], aggressive); err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "Repaired %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().Bool("aggressive", false, "apply slower, more invasive fixes")
	return cmd
}

func newVersionCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(app.stdout, version.GetVersionInfo().String())
			return nil
		},
	}
}

func toolchain(app *app, cfg config.Config) *artifact.Command {
	return toolchainWithLogger(app, cfg, app.logger(cfg, app.stderr))
}

func toolchainWithLogger(app *app, cfg config.Config, logger *logging.Logger) *artifact.Command {
	command := artifact.NewCommand(cfg.Toolchain, logger)
	if app.runToolchain != nil {
		command.Run = app.runToolchain
	}
	return command
}
