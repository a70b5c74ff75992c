// Package cli implements the dbpilot command line interface.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	dbpilot "github.com/dbpilot/dbpilot"
	"github.com/dbpilot/dbpilot/application"
	"github.com/dbpilot/dbpilot/domain/skill"
	"github.com/dbpilot/dbpilot/infrastructure/config"
	"github.com/dbpilot/dbpilot/infrastructure/etp"
	"github.com/dbpilot/dbpilot/infrastructure/logging"
	"github.com/dbpilot/dbpilot/infrastructure/skills"
	"github.com/dbpilot/dbpilot/infrastructure/storage/sqlite"
)

// App holds the wired dependencies shared by all commands.
type App struct {
	Config config.Config
	Store  *sqlite.Store
	Bridge *etp.Manager
	Skills *skill.Registry
	Cache  *application.SessionCache

	watcher *skills.Watcher
}

// NewApp builds the application from a config file path.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	store, err := sqlite.Open(sqlite.Config{
		Path:          cfg.Storage.Path,
		EncryptionKey: cfg.Storage.EncryptionKey,
	})
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Store:  store,
		Bridge: etp.NewManager(),
		Skills: skill.NewRegistry(),
	}

	if cfg.Skills.Dir != "" {
		if cfg.Skills.Watch {
			app.watcher, err = skills.Watch(app.Skills, cfg.Skills.Dir)
			if err != nil {
				logging.Warn().
					Add(logging.Component("skills")).
					Add(logging.ErrorField(err)).
					Msg("skill watching disabled")
				_ = skills.LoadInto(app.Skills, cfg.Skills.Dir)
			}
		} else if err := skills.LoadInto(app.Skills, cfg.Skills.Dir); err != nil {
			logging.Warn().
				Add(logging.Component("skills")).
				Add(logging.ErrorField(err)).
				Msg("skill loading failed")
		}
	}

	app.Cache = application.NewSessionCache(cfg.Cache.TTL, application.NewSessionBuilder(application.BuilderConfig{
		Store:             store,
		Bridge:            app.Bridge,
		Skills:            app.Skills,
		MaxIterations:     cfg.Chat.MaxIterations,
		AutoMaxIterations: cfg.Chat.AutoMaxIterations,
	}))
	return app, nil
}

// Close releases the application's resources.
func (a *App) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.Bridge.CloseAll()
	_ = a.Store.Close()
}

// NewRootCommand builds the dbpilot root command tree.
func NewRootCommand() *cobra.Command {
	var configPath string
	var app *App

	root := &cobra.Command{
		Use:           "dbpilot",
		Short:         "Conversational database agent",
		Long:          "dbpilot lets you chat with an LLM agent that inspects and tunes your database, gating every mutation behind your confirmation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			var err error
			app, err = NewApp(configPath)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app != nil {
				app.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	appRef := func() *App { return app }
	root.AddCommand(
		newChatCommand(appRef),
		newConnectionsCommand(appRef),
		newProvidersCommand(appRef),
		newServersCommand(appRef),
		newSkillsCommand(appRef),
		newSessionsCommand(appRef),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dbpilot version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbpilot %s\n", dbpilot.Version)
		},
	}
}

// startCleanupLoop evicts expired sessions periodically while a long-lived
// command runs.
func startCleanupLoop(cache *application.SessionCache, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				cache.CleanupExpired()
			}
		}
	}()
}
