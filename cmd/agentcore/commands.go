package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/arcflow/agentcore/internal/agent"
	"github.com/arcflow/agentcore/internal/config"
	"github.com/arcflow/agentcore/internal/gateway"
	"github.com/arcflow/agentcore/internal/orchestrator"
	"github.com/arcflow/agentcore/internal/threads"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent runtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			server := gateway.NewServer(a.driver, a.store, a.logger, gateway.Config{
				Host:      cfg.Server.Host,
				Port:      cfg.Server.HTTPPort,
				APIKeys:   cfg.Auth.APIKeys,
				RunConfig: driverConfig(cfg),
			})

			metricsServer := &http.Server{
				Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
				Handler: promhttp.Handler(),
			}
			go func() { _ = metricsServer.ListenAndServe() }()

			stopWatch, err := watchConfig(ctx, *configPath, a.logger)
			if err != nil {
				a.logger.Warn(ctx, "config watcher unavailable", "error", err)
			} else {
				defer stopWatch()
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()
			a.logger.Info(ctx, "agentcore serving",
				"http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
				"metrics_addr", metricsServer.Addr,
				"sandbox_backend", cfg.Tools.Sandbox.Backend,
			)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
			return server.Shutdown(shutdownCtx)
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	var threadID, projectID, accountID, model string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single agent thread from the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if threadID == "" {
				threadID = uuid.NewString()
			}
			if projectID == "" {
				projectID = uuid.NewString()
			}
			if err := a.store.CreateProject(ctx, projectID, accountID); err != nil {
				return err
			}

			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				content, _ := json.Marshal(args[0])
				if _, err := a.store.AddMessage(ctx, threadID, agent.MessageKindUser, content, true); err != nil {
					return err
				}
			}

			runCfg := driverConfig(cfg)
			if model != "" {
				runCfg.Model = model
			}
			runCfg.Stream = true

			encoder := json.NewEncoder(cmd.OutOrStdout())
			for event := range a.driver.Run(ctx, threadID, projectID, runCfg) {
				if err := encoder.Encode(event); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&threadID, "thread", "", "thread id (generated if empty)")
	cmd.Flags().StringVar(&projectID, "project", "", "project id (generated if empty)")
	cmd.Flags().StringVar(&accountID, "account", "local", "account id the project belongs to")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	return cmd
}

func newSandboxCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Manage project sandboxes",
	}
	cmd.AddCommand(newSandboxCreateCmd(configPath), newSandboxRemoveCmd(configPath))
	return cmd
}

func newSandboxCreateCmd(configPath *string) *cobra.Command {
	var projectID, accountID, password string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create (or start) the sandbox for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			if err := a.store.CreateProject(cmd.Context(), projectID, accountID); err != nil {
				return err
			}

			if password == "" {
				password, err = promptPassword(cmd, "VNC password: ")
				if err != nil {
					return err
				}
			}

			handle, err := orchestrator.EnsureProjectSandbox(cmd.Context(), a.sandboxProvider, a.store, projectID, password, cfg.Tools.Sandbox.Image)
			if err != nil {
				return err
			}

			descriptor := handle.Descriptor()
			fmt.Fprintf(cmd.OutOrStdout(), "sandbox %s is %s\n", descriptor.ID, descriptor.State)
			if url, ok := handle.PreviewLink(8080); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "web:  %s\n", url)
			}
			if url, ok := handle.PreviewLink(6080); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "vnc:  %s\n", url)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&accountID, "account", "local", "account id the project belongs to")
	cmd.Flags().StringVar(&password, "password", "", "VNC password (prompted if empty)")
	return cmd
}

func newSandboxRemoveCmd(configPath *string) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Stop and delete the sandbox for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			if err := orchestrator.RemoveProjectSandbox(cmd.Context(), a.sandboxProvider, a.store, projectID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sandbox removed")
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	return cmd
}

// promptPassword reads a password without echo when stdin is a terminal,
// falling back to a generated one otherwise.
func promptPassword(cmd *cobra.Command, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		generated := uuid.NewString()[:12]
		fmt.Fprintf(cmd.OutOrStdout(), "generated VNC password: %s\n", generated)
		return generated, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}
	return string(raw), nil
}

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	openMigrator := func() (*threads.Migrator, func(), error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, nil, err
		}
		if strings.ToLower(cfg.Database.Driver) != "postgres" || cfg.Database.URL == "" {
			return nil, nil, fmt.Errorf("migrations require database.driver=postgres and a configured database.url")
		}
		// A plain connection, not the prepared-statement store: the tables
		// its statements target may not exist until the migrations run.
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		migrator, err := threads.NewMigrator(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return migrator, func() { _ = db.Close() }, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				migrator, closeFn, err := openMigrator()
				if err != nil {
					return err
				}
				defer closeFn()
				applied, err := migrator.Up(cmd.Context(), 0)
				if err != nil {
					return err
				}
				for _, id := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "up to date")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				migrator, closeFn, err := openMigrator()
				if err != nil {
					return err
				}
				defer closeFn()
				applied, pending, err := migrator.Status(cmd.Context())
				if err != nil {
					return err
				}
				for _, entry := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied  %s  %s\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
				}
				for _, entry := range pending {
					fmt.Fprintf(cmd.OutOrStdout(), "pending  %s\n", entry.ID)
				}
				return nil
			},
		},
	)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	})
	return cmd
}
