package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/scarablabs/scarab/internal/api"
	"github.com/scarablabs/scarab/internal/daemon"
	"github.com/scarablabs/scarab/internal/dedupe"
	"github.com/scarablabs/scarab/internal/github"
	"github.com/scarablabs/scarab/internal/judge"
	"github.com/scarablabs/scarab/internal/notify"
	"github.com/scarablabs/scarab/internal/payout"
	"github.com/scarablabs/scarab/internal/pipeline"
	"github.com/scarablabs/scarab/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bounty server",
	Long: `Start the HTTP server and the submission pipeline.

The server receives GitHub issue webhooks, judges reports, and settles
valid bounties. By default it listens on port 8080; use --port or the
SCARAB_PORT environment variable to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// bountyTable reads the severity amounts from config. A malformed amount
// falls back to zero for that tier.
func bountyTable() judge.BountyTable {
	parse := func(key string) decimal.Decimal {
		d, err := decimal.NewFromString(viper.GetString(key))
		if err != nil {
			slog.Warn("invalid bounty amount, using 0", "key", key, "value", viper.GetString(key))
			return decimal.Zero
		}
		return d
	}
	return judge.BountyTable{
		Low:    parse("bounty.low"),
		Medium: parse("bounty.medium"),
		High:   parse("bounty.high"),
	}
}

// errSettler stands in when no payment rail is configured: judging still
// works, settlement attempts fail and mark the submission failed.
type errSettler struct{}

func (errSettler) Send(ctx context.Context, to string, amount decimal.Decimal, currency string) (string, error) {
	return "", errors.New("payment rail not configured (set payout.base_url)")
}

func serveRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	tracker := github.NewClient()
	judgeClient := judge.NewClient(
		viper.GetString("anthropic.api_key"),
		viper.GetString("anthropic.model"),
		bountyTable(),
	)
	notifier := notify.NewPublisher(tracker, time.Duration(viper.GetInt("notify.timeout_seconds"))*time.Second)

	var rail payout.Rail
	var settler pipeline.Settler = errSettler{}
	if baseURL := viper.GetString("payout.base_url"); baseURL != "" {
		client := payout.NewClient(baseURL, viper.GetString("payout.api_key"),
			time.Duration(viper.GetInt("payout.timeout_seconds"))*time.Second)
		rail = client
		settler = client
	} else {
		slog.Warn("payout.base_url not set, valid reports will fail settlement")
	}

	orch := pipeline.New(s, judgeClient, settler, tracker, notifier, pipeline.Config{
		Workers:       viper.GetInt("pipeline.workers"),
		QueueSize:     viper.GetInt("pipeline.queue_size"),
		JudgeTimeout:  time.Duration(viper.GetInt("judge.timeout_seconds")) * time.Second,
		PayoutTimeout: time.Duration(viper.GetInt("payout.timeout_seconds")) * time.Second,
		Currency:      viper.GetString("bounty.currency"),
	})

	hook := webhook.NewHandler(s,
		dedupe.NewDetector(s, viper.GetFloat64("dedupe.threshold")),
		notifier, orch,
		viper.GetString("github.webhook_secret"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	poolDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(poolDone)
	}()

	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewServer(s, rail, hook).Router(),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("scarab listening", "addr", addr, "workers", viper.GetInt("pipeline.workers"))

	select {
	case err := <-errCh:
		stop()
		<-poolDone
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	<-poolDone
	return nil
}

// --- Background mode ---

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "scarab-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "scarab-serve.log")
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would start %s serve in the background", exe)
		return nil
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	child := exec.Command(exe, "serve")
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	ui.Success("Server started (pid %d), logs at %s", child.Process.Pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	// Give it a few seconds to shut down cleanly before forcing.
	for i := 0; i < 50; i++ {
		if _, alive := pf.IsRunning(); !alive {
			_ = pf.Remove()
			ui.Success("Server stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = pf.Signal(sigKILL())
	_ = pf.Remove()
	ui.Warning("Server killed after timeout")
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Success("Server running (pid %d)", pid)
	} else {
		ui.Info("Server is not running")
	}
	return nil
}
