package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/refaxbot/refaxbot/internal/auth"
	"github.com/refaxbot/refaxbot/internal/config"
	"github.com/refaxbot/refaxbot/internal/database"
)

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "WhatsApp sales assistant for auto parts stores",
		Long: strings.TrimSpace(`refaxbot answers customers of an auto parts store over WhatsApp.

It classifies each message, keeps per-conversation memory, lets the model
search the catalog, check stock, quote and open tickets, and replies in Spanish.`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newTokenCommand())
	root.AddCommand(newVersionCommand())

	return root
}

// loadConfig loads and validates configuration and installs the logger.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	setupLogger(cfg.Log)

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API, NATS relay and background sweeps",
		Example: "  refaxbot serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate [up|down]",
		Short: "Apply or roll back database migrations",
		Example: strings.Join([]string{
			"  refaxbot migrate",
			"  refaxbot migrate down --steps 1",
		}, "\n"),
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			switch direction {
			case "up":
				return database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath)
			case "down":
				return database.RollbackMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath, steps)
			default:
				return fmt.Errorf("unknown migrate direction %q", direction)
			}
		},
	}

	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back")
	return cmd
}

func newChatCommand() *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant locally with in-memory storage",
		Example: strings.Join([]string{
			"  refaxbot chat",
			"  refaxbot chat --message \"necesito balatas para un tsuru 2012\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			return chat(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "One-shot message instead of an interactive session")
	cmd.Flags().StringVarP(&opts.conversation, "conversation", "c", "cli", "Conversation id")
	cmd.Flags().StringVarP(&opts.phone, "phone", "p", "+5215500000000", "Customer phone number")
	cmd.Flags().BoolVarP(&opts.details, "details", "d", false, "Print intent, confidence and functions after each reply")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		service       string
		pointOfSaleID string
		ttl           time.Duration
	)

	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Issue a service token for the webhook gateway or dashboard",
		Example: "  refaxbot token --service whatsapp-gateway --ttl 720h",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			token, err := auth.NewTokenManager(cfg.Auth.ServiceSecret, cfg.Auth.Issuer).Issue(service, pointOfSaleID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", "whatsapp-gateway", "Calling service name")
	cmd.Flags().StringVar(&pointOfSaleID, "pos", "", "Restrict the token to one point of sale")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, 0 for no expiry")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  refaxbot version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
			return nil
		},
	}
}
