package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbpilot/dbpilot/domain/config"
	"github.com/dbpilot/dbpilot/infrastructure/etp"
)

func newConnectionsCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage database connections",
	}

	var desc config.ConnectionDescriptor
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a database connection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app().Store.SaveConnection(cmd.Context(), desc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connection %q saved (id %d)\n", desc.Name, id)
			return nil
		},
	}
	add.Flags().StringVar(&desc.Name, "name", "", "connection name")
	add.Flags().StringVar(&desc.Driver, "driver", "postgres", "driver (postgres or sqlite)")
	add.Flags().StringVar(&desc.Host, "host", "localhost", "host")
	add.Flags().IntVar(&desc.Port, "port", 5432, "port")
	add.Flags().StringVar(&desc.Database, "database", "", "database name (or sqlite path)")
	add.Flags().StringVar(&desc.Username, "username", "", "username")
	add.Flags().StringVar(&desc.Password, "password", "", "password (encrypted at rest)")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("database")

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conns, err := app().Store.ListConnections(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range conns {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s://%s:%d/%s\n", c.ID, c.Name, c.Driver, c.Host, c.Port, c.Database)
			}
			return nil
		},
	}

	use := &cobra.Command{
		Use:   "use <id>",
		Short: "Mark a connection as the active default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("not a connection id: %s", args[0])
			}
			return app().Store.SetActiveConnection(cmd.Context(), id)
		},
	}

	cmd.AddCommand(add, list, use)
	return cmd
}

func newProvidersCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage model providers",
	}

	var desc config.ProviderDescriptor
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a model provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app().Store.SaveProvider(cmd.Context(), desc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provider %q saved (id %d)\n", desc.Name, id)
			return nil
		},
	}
	add.Flags().StringVar(&desc.Name, "name", "", "provider name")
	add.Flags().StringVar(&desc.Type, "type", "", "provider type (openai, deepseek, qwen, ollama, anthropic, gemini)")
	add.Flags().StringVar(&desc.APIKey, "api-key", "", "API key (encrypted at rest)")
	add.Flags().StringVar(&desc.BaseURL, "base-url", "", "base URL override")
	add.Flags().StringVar(&desc.Model, "model", "", "model override")
	add.Flags().BoolVar(&desc.Default, "default", false, "use as the default provider")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("type")

	cmd.AddCommand(add)
	return cmd
}

func newServersCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage external tool servers",
	}

	var cfg etp.ServerConfig
	add := &cobra.Command{
		Use:   "add",
		Short: "Register an external tool server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Enabled = true
			if err := app().Store.SaveServer(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server %q saved\n", cfg.Name)
			return nil
		},
	}
	add.Flags().StringVar(&cfg.Name, "name", "", "server name")
	add.Flags().StringVar(&cfg.Command, "command", "", "command to launch")
	add.Flags().StringSliceVar(&cfg.Args, "arg", nil, "command argument (repeatable)")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("command")

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an external tool server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app().Bridge.RemoveServer(args[0])
			return app().Store.DeleteServer(cmd.Context(), args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered external tool servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers, err := app().Store.ListServers(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range servers {
				state := "disabled"
				if s.Enabled {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.Name, s.Command, state)
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}

func newSkillsCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage skills",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List loaded skills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, s := range app().Skills.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Name, s.Description)
			}
			return nil
		},
	}
	cmd.AddCommand(list)
	return cmd
}

func newSessionsCommand(app func() *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := app().Store.ListSessions(cmd.Context(), 20)
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Title)
			}
			return nil
		},
	}
	cmd.AddCommand(list)
	return cmd
}
