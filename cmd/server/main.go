package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/stanstork/datafactory/internal/authz"
	"github.com/stanstork/datafactory/internal/config"
	"github.com/stanstork/datafactory/internal/models"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "datafactory",
		Short:         "DataFactory moves data between connectors on a schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config file (default: ./config.yaml)")

	serve := serveCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, migrateCmd(), runCmd(), jobsCmd(), tokenCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, os.Stdout)

			ctx := context.Background()
			app, err := newApplication(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			if err := app.manager.Start(ctx); err != nil {
				app.shutdown(ctx)
				return err
			}

			err = app.startServer(app.handler())
			logger.Info().Msg("Application terminated.")
			return err
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, os.Stderr)
			db, _, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Execute one job now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := newApplication(ctx, cfg, newLogger(cfg.Log, os.Stderr), false)
			if err != nil {
				return err
			}
			defer app.close()

			res, runErr := app.manager.ExecuteJob(ctx, jobID)
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
}

func jobsCmd() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect stored jobs",
	}
	jobs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs with their most recent execution",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := newApplication(ctx, cfg, newLogger(cfg.Log, os.Stderr), false)
			if err != nil {
				return err
			}
			defer app.close()

			list, err := app.manager.ListJobsWithLastRun(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tSINK\tSCHEDULE\tENABLED\tLAST RUN")
			for _, j := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
					j.ID, j.Name, j.SourceType, j.SinkType, orDash(j.Schedule), j.Enabled, lastRun(j.LastRun))
			}
			return tw.Flush()
		},
	})
	return jobs
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API bearer token signed with auth.jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not set; the API is unauthenticated")
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := authz.IssueToken(cfg.Auth.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func lastRun(exec *models.Execution) string {
	if exec == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s", exec.Status, exec.StartedAt.Format(time.RFC3339))
}
