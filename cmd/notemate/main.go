package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/notemate/internal/config"
	"github.com/MarcoPoloResearchLab/notemate/internal/database"
	"github.com/MarcoPoloResearchLab/notemate/internal/logging"
	"github.com/MarcoPoloResearchLab/notemate/internal/server"
	"github.com/MarcoPoloResearchLab/notemate/internal/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notemate",
		Short: "NoteMate simulated collaborative editing session",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSimulateCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("session-id", defaults.GetString("session.id"), "Session identifier shown to collaborators")
	cmd.PersistentFlags().String("local-user", defaults.GetString("local.user_id"), "Roster identifier of the local user")
	cmd.PersistentFlags().Int("simulated-lag-ms", defaults.GetInt("network.simulated_lag_ms"), "Initial simulated lag in milliseconds (0-500)")
	cmd.PersistentFlags().Float64("packet-loss-rate", defaults.GetFloat64("network.packet_loss_rate"), "Probability that a simulated packet is lost")
	cmd.PersistentFlags().String("export-dir", defaults.GetString("export.dir"), "Directory for activity log exports")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "session.id", "session-id")
	bindFlag(cmd, "local.user_id", "local-user")
	bindFlag(cmd, "network.simulated_lag_ms", "simulated-lag-ms")
	bindFlag(cmd, "network.packet_loss_rate", "packet-loss-rate")
	bindFlag(cmd, "export.dir", "export-dir")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// application bundles the process-wide dependencies shared by every command.
type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	session  *session.Session
	shutdown func()
}

func newApplication(ctx context.Context, publisher session.Publisher) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	repository, err := database.NewDocumentRepository(database.DocumentRepositoryConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger.Named("database"),
	})
	if err != nil {
		_ = database.Close(db)
		_ = logger.Sync()
		return nil, err
	}

	collaborativeSession, err := session.New(ctx, session.Config{
		App:         appConfig,
		Persistence: repository,
		Publisher:   publisher,
		Logger:      logger.Named("session"),
	})
	if err != nil {
		_ = database.Close(db)
		_ = logger.Sync()
		return nil, err
	}

	return &application{
		config:   appConfig,
		logger:   logger,
		session:  collaborativeSession,
		shutdown: func() {
			if err := database.Close(db); err != nil {
				logger.Warn("database close failed", zap.Error(err))
			}
			_ = logger.Sync()
		},
	}, nil
}

func runServer(ctx context.Context) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := server.NewRealtimeDispatcher()
	rt, err := newApplication(signalCtx, dispatcher)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Session:  rt.session,
		Realtime: dispatcher,
		Logger:   rt.logger.Named("http"),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    rt.config.HTTPAddress,
		Handler: handler,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return rt.session.Run(groupCtx)
	})
	group.Go(func() error {
		rt.logger.Info("server starting", zap.String("address", rt.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
