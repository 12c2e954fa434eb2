package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	schemaFlags := &SchemaFlags{}
	sessionsFlags := &SessionsFlags{}
	showFlags := &ShowFlags{}
	serveFlags := &ServeFlags{}

	reportCommand := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createSchemaCommand(reportCommand, schemaFlags),
		createReplayCommand(reportCommand),
		createSessionsCommand(reportCommand, sessionsFlags),
		createShowCommand(reportCommand, showFlags),
		createServeCommand(reportCommand, serveFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "teacup-report",
		Short: "Test run reporting into a relational database",
		Long: `teacup-report records test sessions, executions, results and logs
in the teacup_report schema and lets you browse them.

Examples:
  teacup-report schema --dialect=postgres
  teacup-report replay run.yaml --config=reporter.properties
  teacup-report sessions --limit=10
  teacup-report show 42
  teacup-report serve`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to a .properties, TOML or YAML config file (optional)")
	root.PersistentFlags().StringVar(&flags.EnvFile, "env-file", "", "load KEY=VALUE pairs into the environment before reading config")

	return root
}

func createSchemaCommand(reportCommand command, flags *SchemaFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the DDL Initialize runs",
		Long: `Print the create-if-not-exists statements for a dialect.
Without --dialect the configured dialect is used.

Examples:
  teacup-report schema --dialect=mysql
  teacup-report schema --config=reporter.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportCommand.withOutput(cmd).Schema(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Dialect, "dialect", "", "mysql, postgres or sqlite")
	return cmd
}

func createReplayCommand(reportCommand command) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Record a YAML scenario into the report database",
		Long: `Drive the report store from a scenario file listing a node tree and
the lifecycle callbacks to issue against it.

Scenario format:
  nodes:
    - name: suite
      children:
        - name: suite.case
  events:
    - op: initialize
    - op: initialized
    - op: started
      node: suite.case
    - op: finished
      node: suite.case
      status: successful
    - op: terminated`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportCommand.withOutput(cmd).Replay(cmd.Context(), args[0])
		},
	}
}

func createSessionsCommand(reportCommand command, flags *SessionsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportCommand.withOutput(cmd).Sessions(cmd.Context(), *flags)
		},
	}
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "maximum number of sessions")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	return cmd
}

func createShowCommand(reportCommand command, flags *ShowFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show the executions and logs of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportCommand.withOutput(cmd).Show(cmd.Context(), args[0], *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&flags.Logs, "logs", true, "include log lines")
	return cmd
}

func createServeCommand(reportCommand command, flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report read API and metrics over HTTP",
		Long: `Start an HTTP server exposing recorded sessions.

Endpoints (under the base path):
  GET /sessions
  GET /sessions/:id
  GET /sessions/:id/executions
  GET /sessions/:id/logs
  GET /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return reportCommand.withOutput(cmd).Serve(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "listen address (default from reporter.http.listen)")
	cmd.Flags().StringVar(&flags.BasePath, "base-path", "", "base path (default from reporter.http.base_path)")
	cmd.Flags().BoolVar(&flags.NonBlocking, "non-blocking", false, "start the server and return (for tests)")
	return cmd
}
