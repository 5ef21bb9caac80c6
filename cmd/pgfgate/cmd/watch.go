package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgf-fleet/pgfgate/client"
	"github.com/pgf-fleet/pgfgate/config"
	"github.com/pgf-fleet/pgfgate/notify"
	"github.com/pgf-fleet/pgfgate/upstream"
)

var (
	watchGateway  string
	watchSocket   string
	watchUsername string
	watchInterval time.Duration
	watchVerbose  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sign in through a gateway and stream notifications",
	Long: `Signs in through a running gateway, keeps the session alive with the
background refresh loop and prints every notification pushed on the
notification socket as a JSON line. The password is read from
PGF_WATCH_PASSWORD.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("PGF_WATCH_PASSWORD")
		if watchUsername == "" || password == "" {
			return errors.New("--username and PGF_WATCH_PASSWORD are required")
		}
		level := slog.LevelInfo
		if watchVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := client.New(watchGateway)
		if err != nil {
			return err
		}
		if _, err := c.Login(ctx, watchUsername, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		defer c.Logout(context.Background())

		store := client.NewStore(c)
		store.Subscribe(func(s client.Snapshot) {
			logger.Debug("auth state changed", slog.String("state", s.State.String()))
		})
		if err := store.RefreshMe(ctx); err != nil {
			return fmt.Errorf("fetching profile: %w", err)
		}
		u := store.User()
		logger.Info("signed in",
			slog.String("username", u.Username),
			slog.String("role", u.Role.String()),
			slog.Any("sections", u.Role.Sections()))

		go client.NewRefreshLoop(c, client.WithInterval(watchInterval), client.WithLogger(logger)).Run(ctx)

		socketBase := watchSocket
		if socketBase == "" {
			socketBase = os.Getenv(config.UpstreamEnv)
		}
		if socketBase == "" {
			socketBase = upstream.DefaultBaseURL
		}
		listener, err := notify.NewListener(socketBase, c, notify.WithLogger(logger))
		if err != nil {
			return err
		}
		return streamNotifications(ctx, listener, cmd.OutOrStdout(), logger)
	},
}

// streamNotifications reconnects with capped exponential backoff until ctx
// is done.
func streamNotifications(ctx context.Context, l *notify.Listener, out io.Writer, logger *slog.Logger) error {
	enc := json.NewEncoder(out)
	backoff := time.Second
	for {
		err := l.Run(ctx, func(n notify.Notification) {
			enc.Encode(n.Raw)
		})
		if ctx.Err() != nil {
			return nil
		}
		if client.IsUnauthorized(err) {
			return err
		}
		logger.Warn("notification socket dropped", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Minute)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchGateway, "gateway", "http://localhost:3000/api", "Gateway API base URL")
	watchCmd.Flags().StringVar(&watchSocket, "socket", "", "Notification socket base URL (defaults to "+config.UpstreamEnv+")")
	watchCmd.Flags().StringVarP(&watchUsername, "username", "u", "", "Username to sign in with")
	watchCmd.Flags().DurationVar(&watchInterval, "refresh-interval", client.DefaultRefreshInterval, "Session refresh interval")
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Log debug events, including refresh failures")
}
