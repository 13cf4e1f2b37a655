package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/authkeel/authkeel/internal/app"
	"github.com/authkeel/authkeel/internal/config"
	"github.com/authkeel/authkeel/internal/tools/common"
	"github.com/authkeel/authkeel/internal/tools/loadgen"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "authkeel",
		Short:         "Session and identity service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file loaded before configuration")
	root.AddCommand(newServeCommand(), newCleanupCommand(), newLoadgenCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired sessions and device grants, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Redis.Close() }()

			sessions, err := a.Expired.CleanupExpired()
			if err != nil {
				return fmt.Errorf("session cleanup: %w", err)
			}
			grants, err := a.Grants.CleanupExpired()
			if err != nil {
				return fmt.Errorf("device grant cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions, %d device grants\n", sessions, grants)
			return nil
		},
	}
}

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Send synthetic traffic at a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d requests in %s (%d transport failures)\n",
				res.Total, res.Elapsed.Round(time.Millisecond), res.Failures)
			for class, n := range res.ByClass {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", class, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: mixed, auth, device, health")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().Float64Var(&cfg.RPS, "rps", 20, "request rate")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "parallel workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "target selection seed")
	return cmd
}
