// opsboard-watch is a terminal companion for the OpsBoard dashboard: it logs
// in with any of the supported flows and keeps printing the dashboard read
// models using the same adaptive poller the views use.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opsboard/opsboard-go/internal/config"
	"github.com/opsboard/opsboard-go/pkg/opsboard"
	"github.com/rs/zerolog"
)

func main() {
	var (
		configPath = flag.String("config", defaultConfigPath(), "Path to TOML config file")
		email      = flag.String("email", os.Getenv("OPSBOARD_EMAIL"), "Login email")
		password   = flag.String("password", os.Getenv("OPSBOARD_PASSWORD"), "Login password")
		useCode    = flag.Bool("code", false, "Use the email one-time-code flow instead of a password")
		remember   = flag.Bool("remember", true, "Persist the session durably")
		verbose    = flag.Bool("verbose", false, "Debug logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	logger := &zeroLogger{log: zl}

	cfg, err := config.Load(*configPath)
	if err != nil {
		zl.Fatal().Err(err).Msg("Failed to load config")
	}

	client, err := opsboard.NewClient(&opsboard.ClientOptions{
		BaseURL:          cfg.API.BaseURL,
		Timeout:          cfg.API.Timeout(),
		SessionStatePath: cfg.Session.ResolveStatePath(),
		IdleTimeout:      cfg.Session.IdleTimeout(),
		ExpirySkew:       cfg.Session.ExpirySkew(),
		Logger:           logger,
		SentryDSN:        os.Getenv("SENTRY_DSN"),
	})
	if err != nil {
		zl.Fatal().Err(err).Msg("Failed to create client")
	}
	defer client.Close()

	ctx := context.Background()

	if !client.Session.IsAuthenticated() {
		if err := login(ctx, client, *email, *password, *useCode, *remember); err != nil {
			zl.Fatal().Err(err).Msg("Login failed")
		}
	}

	identity := client.Session.Identity()
	zl.Info().Str("email", identity.Email).Str("role", identity.Role).Msg("Authenticated")

	poller, err := client.NewDashboardPoller(
		func(data *opsboard.DashboardData) {
			printDashboard(data)
		},
		func(err error) {
			zl.Warn().Err(err).Msg("Dashboard refresh failed, backing off")
		},
	)
	if err != nil {
		zl.Fatal().Err(err).Msg("Failed to create poller")
	}
	if err := poller.Start(); err != nil {
		zl.Fatal().Err(err).Msg("Failed to start poller")
	}
	defer poller.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	zl.Info().Msg("Shutting down")
}

func login(ctx context.Context, client *opsboard.Client, email, password string, useCode, remember bool) error {
	if email == "" {
		return fmt.Errorf("email is required (flag -email or OPSBOARD_EMAIL)")
	}

	if useCode {
		if res := client.Session.SendLoginCode(ctx, email); !res.Success {
			return fmt.Errorf("send code: %s", res.Message)
		}
		fmt.Fprintf(os.Stderr, "Enter the code sent to %s: ", email)
		reader := bufio.NewReader(os.Stdin)
		code, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if res := client.Session.LoginWithCode(ctx, email, strings.TrimSpace(code)); !res.Success {
			return fmt.Errorf("verify code: %s", res.Message)
		}
		return nil
	}

	if password == "" {
		return fmt.Errorf("password is required (flag -password or OPSBOARD_PASSWORD)")
	}
	if res := client.Session.Login(ctx, email, password, remember); !res.Success {
		return fmt.Errorf("%s", res.Message)
	}
	return nil
}

func printDashboard(data *opsboard.DashboardData) {
	now := time.Now().Format("15:04:05")
	if data.Summary != nil {
		fmt.Printf("[%s] users=%d sessions=%d alerts=%d pending=%d\n",
			now, data.Summary.TotalUsers, data.Summary.ActiveSessions,
			data.Summary.OpenAlerts, data.Summary.PendingTasks)
	}
	if data.Health != nil {
		fmt.Printf("[%s] health=%s latency=%.1fms queue=%d\n",
			now, data.Health.Status, data.Health.APILatency, data.Health.QueueDepth)
	}
	for _, entry := range data.Activity {
		fmt.Printf("[%s]   %s %s %s\n", now, entry.Actor, entry.Action, entry.Target)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "opsboard.toml"
	}
	return home + "/.opsboard/config.toml"
}

// zeroLogger adapts zerolog to the opsboard Logger interface.
type zeroLogger struct {
	log zerolog.Logger
}

func (l *zeroLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Debug(), msg, keysAndValues)
}

func (l *zeroLogger) Info(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Info(), msg, keysAndValues)
}

func (l *zeroLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Warn(), msg, keysAndValues)
}

func (l *zeroLogger) Error(msg string, keysAndValues ...interface{}) {
	l.emit(l.log.Error(), msg, keysAndValues)
}

func (l *zeroLogger) emit(ev *zerolog.Event, msg string, keysAndValues []interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keysAndValues[i+1])
	}
	ev.Msg(msg)
}
