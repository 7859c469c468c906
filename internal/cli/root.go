// Package cli provides the nkit command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"nkit/internal/config"
	"nkit/internal/fault"
	"nkit/internal/logger"
)

// Version is set at build time.
var Version = "dev"

// annotationNoDatabase marks commands that run without database settings.
const annotationNoDatabase = "nkit/no-database"

type envKey struct{}

// env is what every subcommand gets from the root's PersistentPreRunE.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func envFrom(cmd *cobra.Command) *env {
	if ctx := cmd.Context(); ctx != nil {
		if e, ok := ctx.Value(envKey{}).(*env); ok {
			return e
		}
	}
	return &env{logger: slog.New(slog.DiscardHandler)}
}

// flagKeys binds persistent flags to config keys.
var flagKeys = map[string]string{
	"dialect":   "database.dialect",
	"dsn":       "database.dsn",
	"name":      "database.name",
	"snapshot":  "database.snapshot_file",
	"log-level": "logging.level",
	"port":      "server.port",
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "nkit",
		Short: "Schema driven REST access to relational databases",
		Long: `nkit introspects a relational database, synthesizes a row type per table
and serves generic CRUD endpoints for every table over HTTP.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			for flag, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(flag)); err != nil {
					return fmt.Errorf("failed to bind flag --%s: %w", flag, err)
				}
			}
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil && cmd.Annotations[annotationNoDatabase] == "" {
				return &fault.UserError{Message: "invalid config", CloseApplication: true, Err: err}
			}

			lg, err := logger.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, envKey{}, &env{cfg: cfg, logger: lg}))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./nkit.yaml)")
	flags.String("dialect", "", "database dialect (sqlite|postgres|mysql|sqlserver)")
	flags.String("dsn", "", "database connection string")
	flags.String("name", "", "logical database name used for snapshots and caching")
	flags.String("snapshot", "", "schema snapshot file (.json, .xml or .yaml)")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.Int("port", 0, "HTTP port for serve")

	_ = rootCmd.RegisterFlagCompletionFunc("dialect", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite", "postgres", "mysql", "sqlserver"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newGenCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}

// Exit codes returned by Run.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitConfig = 2
)

// Execute runs the root command against the process arguments and returns
// the exit code.
func Execute() int {
	return Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes args on a fresh root command. A failure is printed and
// handed to the fault handler; errors that ask to close the application
// exit with ExitConfig, everything else with ExitError.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return ExitOK
	}

	var userErr *fault.UserError
	if errors.As(err, &userErr) {
		fmt.Fprintf(stderr, "%s\n", userErr)
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}

	where := rootCmd.Name()
	lg := slog.New(slog.NewTextHandler(stderr, nil))
	if cmd != nil {
		where = cmd.CommandPath()
		if e := envFrom(cmd); e.cfg != nil {
			lg = e.logger
		}
	}
	if fault.NewHandler(lg, nil).Handle(ctx, err, where) {
		return ExitConfig
	}
	return ExitError
}
