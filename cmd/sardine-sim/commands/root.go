package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gordian-engine/sardine"
	"github.com/gordian-engine/sardine/scategory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	Size     int
	Messages int
	Category uint16

	Loss float64
	Seed uint64

	Timeout            time.Duration
	AckDelay           time.Duration
	RetransmitInterval time.Duration

	LogLevel    string
	MetricsAddr string
}

// NewRootCmd returns the sardine-sim root command.
func NewRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "sardine-sim",
		Short: "Simulate segmented message delivery over a lossy link",

		Args:         cobra.NoArgs,
		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRoot(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Size, "size", 120, "access payload size in bytes")
	f.IntVarP(&opts.Messages, "messages", "n", 1, "number of messages to send")
	f.Uint16Var(&opts.Category, "category", uint16(scategory.GenericOnOffSet), "category code tagged on every message")
	f.Float64Var(&opts.Loss, "loss", 0.1, "probability in [0, 1) of dropping any PDU")
	f.Uint64Var(&opts.Seed, "seed", 1, "seed for payloads and loss decisions")
	f.DurationVar(&opts.Timeout, "timeout", sardine.DefaultIncompleteTimeout, "incomplete timer duration")
	f.DurationVar(&opts.AckDelay, "ack-delay", 50*time.Millisecond, "receiver acknowledgement delay")
	f.DurationVar(&opts.RetransmitInterval, "retransmit-interval", 200*time.Millisecond, "sender retransmission interval")
	f.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	f.StringVarP(&opts.MetricsAddr, "metrics", "m", "", "address to serve Prometheus metrics on, disabled if empty")

	return cmd
}

func runRoot(cmd *cobra.Command, opts rootOptions) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.LogLevel, err)
	}
	log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if opts.Loss < 0 || opts.Loss >= 1 {
		return fmt.Errorf("loss must be in [0, 1), got %v", opts.Loss)
	}
	if opts.Messages <= 0 {
		return errors.New("messages must be positive")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	reg := prometheus.NewRegistry()
	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:    opts.MetricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to serve metrics", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	res, err := runSimulation(ctx, log, reg, cmd.OutOrStdout(), simConfig{
		Size:     opts.Size,
		Messages: opts.Messages,
		Category: scategory.Category(opts.Category),

		Loss: opts.Loss,
		Seed: opts.Seed,

		IncompleteTimeout:  opts.Timeout,
		AckDelay:           opts.AckDelay,
		RetransmitInterval: opts.RetransmitInterval,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "delivered %d/%d\n", res.Delivered, opts.Messages)
	fmt.Fprintf(out,
		"link: sent=%d dropped=%d overflowed=%d\n",
		res.Link.Sent, res.Link.Dropped, res.Link.Overflowed,
	)

	if res.Delivered != opts.Messages {
		return fmt.Errorf("%d of %d messages failed", opts.Messages-res.Delivered, opts.Messages)
	}
	return nil
}

// Execute executes the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
