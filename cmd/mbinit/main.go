package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flovouin/metabase-provisioner/internal/provisioner"
	"github.com/flovouin/metabase-provisioner/metabase"
)

// Creates the logger writing to the standard error, at the configured level.
func makeLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

// Initializes the Metabase API client using the configuration.
func makeMetabaseClient(ctx context.Context, config metabaseConfig, logger *slog.Logger) (*metabase.Client, error) {
	if len(config.ApiKey) > 0 {
		return metabase.MakeAuthenticatedClientWithApiKey(ctx, config.Endpoint(), config.ApiKey, metabase.WithLogger(logger))
	}

	return metabase.MakeAuthenticatedClientWithUsernameAndPassword(ctx, config.Endpoint(), config.User, config.Password, metabase.WithLogger(logger))
}

// Runs the command line.
func runInitialize(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := makeLogger(config.Command.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx := cmd.Context()

	client, err := makeMetabaseClient(ctx, config.Command.Metabase, logger)
	if err != nil {
		return err
	}

	return provisioner.New(client, config.Provisioner, logger).Run(ctx)
}

// Creates the root command.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mbinit",
		Short: "Initializes a Metabase instance displaying the OiRA statistics",
		Long: "Initializes a Metabase instance by adapting its settings, and by setting up the databases, collections, " +
			"dashboards, cards, groups, permissions and users displaying the OiRA statistics. " +
			"The command can be run several times against the same instance.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runInitialize,
	}

	addFlags(cmd.Flags())

	return cmd
}

// The main entrypoint.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
