package main

import (
	"fmt"

	"mcc/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRootCommand(app *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcc",
		Short: "Live 3D modeling sessions with an AI agent",
		Long: `mcc runs an AI agent in a terminal session next to a browser viewer.
Every save of the model file reloads the viewer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default ./"+config.DefaultFile+")")
	flags.String("host", "", "viewer bind address")
	flags.IntP("port", "p", 0, "viewer port")
	flags.Bool("no-browser", false, "do not open the viewer in a browser")
	flags.Duration("debounce", 0, "quiet window before a change reloads viewers")
	flags.String("base-dir", "", "directory that holds session folders")
	flags.String("terminal", "", "agent terminal host: auto, tmux or pty")
	flags.Duration("grace-period", 0, "time the agent gets to exit before it is killed")
	flags.String("toolchain", "", "modeling toolchain command line")
	flags.String("log-level", "", "log level: debug, info, warning or error")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.BoolP("quiet", "q", false, "only log errors")

	root.AddCommand(
		newSessionCommand(app),
		newPreviewCommand(app),
		newAttachCommand(app),
		newExportCommand(app),
		newValidateCommand(app),
		newRepairCommand(app),
		newVersionCommand(app),
	)
	return root
}

// loadConfig resolves configuration with the flags the user set on cmd
// taking precedence over environment and file.
func loadConfig(cmd *cobra.Command, app *app) (config.Config, error) {
	overrides := map[string]string{}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "config", "verbose", "quiet":
		case "no-browser":
			overrides["open-browser"] = fmt.Sprint(flag.Value.String() != "true")
		default:
			overrides[flag.Name] = flag.Value.String()
		}
	})
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	switch {
	case verbose && quiet:
		return config.Config{}, fmt.Errorf("--verbose and --quiet are mutually exclusive")
	case verbose:
		overrides["log-level"] = "debug"
	case quiet:
		overrides["log-level"] = "error"
	}

	path, _ := cmd.Flags().GetString("config")
	return config.Load(config.LoadOptions{
		Path:   path,
		Getenv: app.getenv,
		Flags:  overrides,
	})
}
