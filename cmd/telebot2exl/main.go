package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/BabyBlinkFeelDark/telebot2exl/internal/app"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/auth"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/config"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/domain"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/logging"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/outputdir"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/report"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/service"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/storage"
	"github.com/BabyBlinkFeelDark/telebot2exl/internal/telegram"
)

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "telebot2exl",
		Short:         "Telegram bot exporting courier statistics to Excel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
		RunE: runServe,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to a .env file loaded before reading the environment")

	rootCmd.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the bot (default)", RunE: runServe},
		&cobra.Command{Use: "migrate", Short: "Create the bookkeeping tables", RunE: runMigrate},
		newExportCmd(),
		&cobra.Command{Use: "sweep", Short: "Run one retention sweep tick", RunE: runSweep},
		newBootstrapCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "telebot2exl: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	courierDB, err := report.OpenDB(cfg)
	if err != nil {
		return err
	}
	defer courierDB.Close()

	loc := cfg.Location()
	outputs := outputdir.New(cfg.DataDir)
	generator := report.NewGenerator(courierDB, loc, logger)
	worker := service.NewExportWorker(logger, generator, cfg.ReportMaxConcurrent, cfg.ReportTimeout)
	telegramAPI := telegram.NewAPI(cfg.BotToken, cfg.TelegramTimeout, time.Duration(cfg.BotPollingIntervalS)*time.Second)

	engine := service.NewConversationEngine(
		logger,
		telegramAPI,
		worker,
		outputs,
		auth.Credentials{Login: cfg.LoginUser, Password: cfg.LoginPassword, PasswordHash: cfg.LoginPasswordHash},
		domain.RangeParser{MaxHour: cfg.MaxHour()},
		store,
		store,
	)

	sweeper, err := newSweeper(cfg, logger, outputs, store)
	if err != nil {
		return err
	}

	server := app.NewHealthServer(cfg, logger, app.HealthDeps{
		Courier: generator,
		TelegramCheck: func(ctx context.Context) error {
			return telegram.CheckConnectivity(ctx, cfg.BotToken, cfg.TelegramTimeout)
		},
		Outputs:  outputs,
		Sessions: engine.Sessions(),
		Exports:  store,
		Sweeps:   store,
		Sweeper:  sweeper,
	})
	var webhookServer *http.Server

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := telegramAPI.SetMyCommands(ctx, service.Commands); err != nil {
		logger.Warn("set bot commands failed", "error", err)
	}

	errCh := make(chan error, 3)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	go sweeper.Run(ctx)

	if cfg.BotTransport == "polling" {
		if err := telegramAPI.DeleteWebhook(ctx); err != nil {
			logger.Warn("delete webhook failed before polling", "error", err)
		}
		go func() {
			errCh <- telegramAPI.PollUpdates(ctx, engine.HandleUpdate)
		}()
	} else {
		secret := cfg.WebhookSecretToken
		if secret == "" {
			// Fresh per process; setWebhook below replaces the previous one.
			secret = strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		if err := telegramAPI.SetupWebhook(ctx, cfg.WebhookURL, secret); err != nil {
			return err
		}
		webhookServer = &http.Server{
			Addr:              cfg.WebhookListenAddr,
			Handler:           app.WebhookHandler(telegramAPI, telegramAPI.WebhookPath(cfg.WebhookURL), secret, engine.HandleUpdate),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			errCh <- webhookServer.ListenAndServe()
		}()
	}

	logger.Info("bot serving",
		"transport", cfg.BotTransport,
		"health_port", cfg.HealthPort,
		"data_dir", cfg.DataDir,
		"timezone", loc.String(),
		"maintenance_window", sweeper.Window().String(),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) && !app.IsServerClosed(err) {
			runErr = err
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ReportTimeout+5*time.Second)
	defer shutdownCancel()
	logger.Info("shutting down bot")
	if webhookServer != nil {
		if err := webhookServer.Shutdown(shutdownCtx); err != nil && !app.IsServerClosed(err) {
			logger.Error("webhook server shutdown failed", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil && !app.IsServerClosed(err) {
		logger.Error("health server shutdown failed", "error", err)
	}
	if err := engine.Wait(shutdownCtx); err != nil {
		logger.Warn("exports still running at shutdown", "error", err)
	}
	return runErr
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("migration complete: %s\n", cfg.DatabasePath)
	return nil
}

func newExportCmd() *cobra.Command {
	var rangeValue string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write one courier spreadsheet without going through Telegram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), rangeValue)
		},
	}
	cmd.Flags().StringVar(&rangeValue, "range", "", `hour range "st-end", e.g. 14-17`)
	_ = cmd.MarkFlagRequired("range")
	return cmd
}

func runExport(ctx context.Context, rangeValue string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	r, err := domain.RangeParser{MaxHour: cfg.MaxHour()}.Parse(rangeValue)
	if err != nil {
		return fmt.Errorf("invalid --range: %w", err)
	}

	logger, logCloser, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	courierDB, err := report.OpenDB(cfg)
	if err != nil {
		return err
	}
	defer courierDB.Close()

	outputs := outputdir.New(cfg.DataDir)
	outputPath, err := outputs.PathFor(uuid.NewString(), r.Filename())
	if err != nil {
		return err
	}

	release := outputs.Lease()
	defer release()

	ctx, cancel := context.WithTimeout(ctx, cfg.ReportTimeout)
	defer cancel()
	generator := report.NewGenerator(courierDB, cfg.Location(), logger)
	if err := generator.Generate(ctx, r.Start(), r.End(), outputPath); err != nil {
		return err
	}
	fmt.Println(outputPath)
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sweeper, err := newSweeper(cfg, logger, outputdir.New(cfg.DataDir), store)
	if err != nil {
		return err
	}
	fmt.Printf("sweep %s\n", sweeper.Tick(cmd.Context()))
	return nil
}

func newBootstrapCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Write the effective configuration to a .env file",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBootstrap(outPath)
		},
	}
	cmd.Flags().StringVar(&outPath, "env-file", ".env", "path to output .env file")
	return cmd
}

func runBootstrap(envPath string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	lines := []string{
		"TOKEN=" + cfg.BotToken,
		"LOGIN_USER=" + cfg.LoginUser,
		"LOGIN_PASSWORD=" + cfg.LoginPassword,
		"LOGIN_PASSWORD_HASH=" + cfg.LoginPasswordHash,
		"BOT_TRANSPORT=" + cfg.BotTransport,
		"WEBHOOK_URL=" + cfg.WebhookURL,
		"WEBHOOK_LISTEN_ADDR=" + cfg.WebhookListenAddr,
		"WEBHOOK_SECRET_TOKEN=" + cfg.WebhookSecretToken,
		"BOT_POLLING_INTERVAL_SECONDS=" + strconv.Itoa(cfg.BotPollingIntervalS),
		"TELEGRAM_TIMEOUT_MS=" + strconv.FormatInt(cfg.TelegramTimeout.Milliseconds(), 10),
		"HOST=" + cfg.DBHost,
		"PORT=" + strconv.Itoa(cfg.DBPort),
		"USER_NAME=" + cfg.DBUser,
		"PASSWORD=" + cfg.DBPassword,
		"DBNAME=" + cfg.DBName,
		"DB_SSLMODE=" + cfg.DBSSLMode,
		"DATA_DIR=" + cfg.DataDir,
		"STATE_DIR=" + cfg.StateDir,
		"TIMEZONE=" + cfg.Timezone,
		"MAINTENANCE_WINDOW_START=" + cfg.MaintenanceStart,
		"MAINTENANCE_WINDOW_END=" + cfg.MaintenanceEnd,
		"SWEEP_INTERVAL_MINUTES=" + strconv.Itoa(int(cfg.SweepInterval/time.Minute)),
		"REPORT_TIMEOUT_SECONDS=" + strconv.Itoa(int(cfg.ReportTimeout/time.Second)),
		"REPORT_MAX_CONCURRENT=" + strconv.Itoa(cfg.ReportMaxConcurrent),
		"STRICT_HOURS=" + strconv.FormatBool(cfg.StrictHours),
		"HEALTH_PORT=" + strconv.Itoa(cfg.HealthPort),
		"LOG_LEVEL=" + cfg.LogLevel,
		"LOG_MAX_SIZE_MB=" + strconv.Itoa(cfg.LogMaxSizeMB),
		"LOG_MAX_BACKUPS=" + strconv.Itoa(cfg.LogMaxBackups),
		"LOG_MAX_AGE_DAYS=" + strconv.Itoa(cfg.LogMaxAgeDays),
		"LOG_COMPRESS=" + strconv.FormatBool(cfg.LogCompress),
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", envPath)
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (*storage.SQLiteStore, error) {
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newSweeper(cfg config.Config, logger *slog.Logger, outputs *outputdir.Dir, store *storage.SQLiteStore) (*service.RetentionSweeper, error) {
	window, err := service.ParseMaintenanceWindow(cfg.MaintenanceStart, cfg.MaintenanceEnd)
	if err != nil {
		return nil, err
	}
	return service.NewRetentionSweeper(logger, outputs, cfg.Location(), window, cfg.SweepInterval, store), nil
}
