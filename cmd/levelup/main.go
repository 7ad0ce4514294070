// Package main - точка входа напоминателя о доменах: serve поднимает
// фоновую доставку и консоль, остальные команды работают с состоянием разово.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"levelup-reminder/internal/app"
	"levelup-reminder/internal/concurrency"
	"levelup-reminder/internal/infra/config"
	"levelup-reminder/internal/infra/logger"
	"levelup-reminder/internal/infra/pr"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	// envPath определяет расположение .env с настройками.
	envPath string
	// runFor ограничивает время работы serve; 0 - до сигнала.
	runFor time.Duration
)

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.Execute()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "levelup",
		Short:             "Daily domain reminders for tracked characters and weapons",
		SilenceUsage:      true,
		PersistentPreRunE: bootstrap,
		RunE:              runServe,
	}
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "assets/.env", "path to .env file")
	rootCmd.Flags().DurationVar(&runFor, "run-for", 0, "stop automatically after this duration")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run reminder delivery and the interactive console",
		RunE:  runServe,
	}
	serveCmd.Flags().DurationVar(&runFor, "run-for", 0, "stop automatically after this duration")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "reschedule",
		Short: "Rebuild the reminder horizon once and exit",
		RunE:  runReschedule,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "Print scheduled reminders",
		RunE:  runPending,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "slots",
		Short: "Print reminder time slots",
		RunE:  runSlots,
	})
	return rootCmd
}

// bootstrap загружает конфигурацию, применяет зону устройства и настраивает логгер.
func bootstrap(*cobra.Command, []string) error {
	if err := config.Load(envPath); err != nil {
		return errors.Wrap(err, "load config")
	}
	// Зона устройства влияет глобально на time.Local.
	time.Local = config.AppLocation() //nolint:reassign // процесс работает в зоне пользователя

	env := config.Env()
	logger.Init(env.LogLevel)
	logger.InitFile(logger.FileOptions{
		Path:       env.LogFile,
		Level:      env.LogFileLevel,
		MaxSizeMB:  env.LogFileMaxSize,
		MaxBackups: env.LogFileMaxBackups,
		MaxAgeDays: env.LogFileMaxAge,
		Compress:   env.LogFileCompress,
	})
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}
	return nil
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) // #nosec G115
}

func runServe(*cobra.Command, []string) error {
	interactive := isInteractive()
	if interactive {
		if err := pr.Init(); err != nil {
			return errors.Wrap(err, "init console")
		}
		// Логи идут через readline, чтобы не ломать строку ввода.
		logger.SetWriters(pr.Stdout(), pr.Stderr())
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	release := concurrency.CancelAfter(ctx, runFor, stop)
	defer release()

	a := app.NewApp()
	if err := a.Init(ctx, stop, interactive); err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close state", zap.Error(err))
		}
	}()

	if err := a.Serve(interactive); err != nil {
		return errors.Wrap(err, "serve")
	}
	logger.Info("Graceful shutdown complete")
	return nil
}

// withApp открывает состояние для разовой команды. session - начать сессию
// (загрузить каталог, отметить открытие и перестроить напоминания).
func withApp(session bool, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.NewApp()
	if err := a.Init(ctx, stop, false); err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if session {
		if err := a.Store().LoadCatalogIfNeeded(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

func runReschedule(*cobra.Command, []string) error {
	return withApp(true, func(_ context.Context, a *app.App) error {
		res := a.Store().LastResult()
		pr.Printf("status=%s cleared=%d planned=%d submitted=%d failed=%d\n",
			res.Status, res.Cleared, res.Planned, res.Submitted, res.Failed)
		return nil
	})
}

func runPending(*cobra.Command, []string) error {
	return withApp(false, func(ctx context.Context, a *app.App) error {
		pending, err := a.Delivery().Pending(ctx)
		if err != nil {
			return err
		}
		for _, r := range pending {
			pr.Printf("%s  %-32s  %s | %s\n",
				r.FireAt.In(time.Local).Format("2006-01-02 15:04 Mon"), r.ID, r.Payload.Title, r.Payload.Body)
		}
		pr.Printf("Total pending: %d\n", len(pending))
		return nil
	})
}

func runSlots(*cobra.Command, []string) error {
	return withApp(false, func(_ context.Context, a *app.App) error {
		for i, slot := range a.Store().Preference().TimeSlots {
			pr.Printf("%d. %s\n", i+1, slot)
		}
		return nil
	})
}
