package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/gordian-engine/sardine"
	"github.com/gordian-engine/sardine/scategory"
	"github.com/gordian-engine/sardine/sdeliver"
	"github.com/gordian-engine/sardine/slower"
	"github.com/gordian-engine/sardine/smemlink"
	"github.com/gordian-engine/sardine/smetrics"
	"github.com/gordian-engine/sardine/spubsub"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	senderAddr   = 0x0001
	receiverAddr = 0x0002
)

type simConfig struct {
	Size     int
	Messages int
	Category scategory.Category

	Loss float64
	Seed uint64

	IncompleteTimeout  time.Duration
	AckDelay           time.Duration
	RetransmitInterval time.Duration
}

type simResult struct {
	Delivered int
	Link      smemlink.Stats
}

// runSimulation sends cfg.Messages messages from the sender to the receiver,
// one at a time, writing one line per outcome to out.
func runSimulation(
	ctx context.Context,
	log *slog.Logger,
	reg prometheus.Registerer,
	out io.Writer,
	cfg simConfig,
) (simResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	link := smemlink.NewNetwork(log.With("sys", "link"), smemlink.NetworkConfig{
		Loss: cfg.Loss,
		Seed: cfg.Seed,
	})
	metrics := smetrics.NewCollector(reg, "sardine")

	var sender, receiver *sardine.Dispatcher
	newDispatcher := func(addr uint16, d **sardine.Dispatcher) {
		s := link.Attach(ctx, addr, func(ctx context.Context, src uint16, pdu []byte) error {
			return (*d).HandlePDU(ctx, src, pdu)
		})
		*d = sardine.NewDispatcher(ctx, log.With("node", addr), sardine.DispatcherConfig{
			LocalAddress:       addr,
			Sender:             metrics.Sender(s),
			Status:             metrics.Status(nil),
			IncompleteTimeout:  cfg.IncompleteTimeout,
			AckDelay:           cfg.AckDelay,
			RetransmitInterval: cfg.RetransmitInterval,
		})
	}
	newDispatcher(senderAddr, &sender)
	newDispatcher(receiverAddr, &receiver)

	defer func() {
		cancel()
		sender.Wait()
		receiver.Wait()
		link.Wait()
	}()

	sent, received := sender.Events(), receiver.Events()
	go metrics.ObserveEvents(ctx, sent)
	go metrics.ObserveEvents(ctx, received)

	rng := rand.New(rand.NewPCG(cfg.Seed, ^cfg.Seed))

	var res simResult
	for i := range cfg.Messages {
		payload := make([]byte, cfg.Size)
		for j := range payload {
			payload[j] = byte(rng.UintN(256))
		}

		seqZero := uint16(i) & slower.SeqZeroMask
		pdus, err := slower.Segment(slower.MessageHeader{
			Src:     senderAddr,
			Dst:     receiverAddr,
			SeqZero: seqZero,

			// Every message exercises segmentation and acknowledgement.
			ForceSegmented: true,
		}, payload)
		if err != nil {
			return res, fmt.Errorf("failed to segment message %d: %w", i, err)
		}

		start := time.Now()
		if err := sender.Send(ctx, &sdeliver.Message{
			Src:      senderAddr,
			Dst:      receiverAddr,
			SeqZero:  seqZero,
			Category: cfg.Category,
			PDUs:     pdus,
		}); err != nil {
			return res, fmt.Errorf("failed to send message %d: %w", i, err)
		}

		var outcome sardine.Event
		outcome, sent, err = awaitOutcome(ctx, sent, seqZero)
		if err != nil {
			return res, fmt.Errorf("failed waiting for message %d: %w", i, err)
		}

		if outcome.Kind == sardine.EventDelivered {
			var got []byte
			got, received, err = awaitPayload(ctx, received, seqZero)
			if err != nil {
				return res, fmt.Errorf("failed waiting for reassembly of message %d: %w", i, err)
			}
			if string(got) != string(payload) {
				return res, fmt.Errorf("message %d reassembled with wrong content", i)
			}
			res.Delivered++
		}

		fmt.Fprintf(out,
			"seq_zero=%d segments=%d category=%s outcome=%s elapsed=%s\n",
			seqZero, pdus.Len(), cfg.Category, outcome.Kind, time.Since(start).Round(time.Microsecond),
		)
	}

	res.Link = link.Stats()
	return res, nil
}

// awaitOutcome returns the first terminal event for seqZero.
func awaitOutcome(
	ctx context.Context, s *spubsub.Stream[sardine.Event], seqZero uint16,
) (sardine.Event, *spubsub.Stream[sardine.Event], error) {
	for {
		e, next, err := s.Await(ctx)
		if err != nil {
			return e, s, err
		}
		s = next

		if e.SeqZero != seqZero {
			continue
		}
		if e.Kind == sardine.EventDelivered || e.Kind == sardine.EventFailed {
			return e, s, nil
		}
	}
}

func awaitPayload(
	ctx context.Context, s *spubsub.Stream[sardine.Event], seqZero uint16,
) ([]byte, *spubsub.Stream[sardine.Event], error) {
	for {
		e, next, err := s.Await(ctx)
		if err != nil {
			return nil, s, err
		}
		s = next

		if e.Kind == sardine.EventReceived && e.SeqZero == seqZero {
			return e.Payload, s, nil
		}
	}
}
