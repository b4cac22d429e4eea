package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/loopholelabs/logging"
	"github.com/loopholelabs/logging/types"
	"github.com/spf13/cobra"

	"logcast/internal/client"
	"logcast/internal/protocol"
)

type options struct {
	server    string
	simulator string
	token     string
	ws        bool
	updates   int
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "logcast",
		Short: "Follow the log of a logcast simulator",
		Example: `  # Long-poll the default simulator
  logcast --server http://localhost:8080

  # Stream a named simulator over a websocket
  logcast --simulator heterogeneous --ws`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logging.New(logging.Zerolog, "logcast", cmd.ErrOrStderr())
			return follow(ctx, opts, cmd.OutOrStdout(), logger)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "logcast server URL")
	cmd.Flags().StringVar(&opts.simulator, "simulator", "", "simulator to follow (default: the server's default)")
	cmd.Flags().StringVar(&opts.token, "auth-token", "", "auth token for the server")
	cmd.Flags().BoolVar(&opts.ws, "ws", false, "stream over a websocket instead of long-polling")
	cmd.Flags().IntVar(&opts.updates, "updates", 0, "exit after this many updates, 0 follows forever")

	return cmd
}

var errDone = errors.New("done")

func follow(ctx context.Context, opts *options, out io.Writer, logger types.Logger) error {
	c, err := client.New(opts.server, opts.token)
	if err != nil {
		return err
	}

	received := 0
	handle := func(u *protocol.Update) error {
		printUpdate(out, u)
		received++
		if opts.updates > 0 && received >= opts.updates {
			return errDone
		}
		return nil
	}

	if opts.ws {
		err := c.Stream(ctx, opts.simulator, func(sub *protocol.Subscribe) {
			logger.Info().Str("simulator", sub.Simulator).Str("client", strconv.FormatInt(sub.ClientID, 10)).Msg("streaming")
		}, handle)
		if errors.Is(err, errDone) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	sub, err := c.Subscribe(ctx, opts.simulator)
	if err != nil {
		return err
	}
	id := sub.ClientID
	logger.Info().Str("simulator", sub.Simulator).Str("client", strconv.FormatInt(id, 10)).Msg("subscribed")

	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Unsubscribe(uctx, id); err != nil {
			logger.Warn().Err(err).Msg("error unsubscribing")
		}
	}()

	for {
		upd, err := c.Update(ctx, id)
		switch {
		case err == nil:
			if err := handle(upd); err != nil {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, client.ErrNotSubscribed):
			// fell too far behind; start again from the present
			logger.Warn().Str("client", strconv.FormatInt(id, 10)).Msg("dropped by server, resubscribing")
			if sub, err = c.Subscribe(ctx, opts.simulator); err != nil {
				return err
			}
			id = sub.ClientID
		default:
			return err
		}
	}
}

func printUpdate(out io.Writer, u *protocol.Update) {
	for _, e := range u.Events {
		fmt.Fprintf(out, "%s %-5s %-9s %-10s %s\n", e.Timestamp.Format(time.RFC3339), e.Severity, e.Facility, e.Location, e.Message)
	}
}
