package sardine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gordian-engine/sardine/internal/sotel"
	"github.com/gordian-engine/sardine/scategory"
	"github.com/gordian-engine/sardine/sdeliver"
	"github.com/gordian-engine/sardine/slower"
	"github.com/gordian-engine/sardine/spubsub"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultIncompleteTimeout is the incomplete timer duration
	// used when [DispatcherConfig.IncompleteTimeout] is zero.
	DefaultIncompleteTimeout = 10 * time.Second

	// DefaultRetiredCapacity is the number of finished transactions
	// remembered when [DispatcherConfig.RetiredCapacity] is zero.
	DefaultRetiredCapacity = 256

	// DefaultRetransmitLimit is the number of unprompted retransmission rounds
	// when [DispatcherConfig.RetransmitLimit] is zero.
	DefaultRetransmitLimit = 4
)

// DispatcherConfig is the configuration passed to [NewDispatcher].
type DispatcherConfig struct {
	// The unicast address of this node.
	// Inbound PDUs addressed elsewhere are dropped.
	LocalAddress uint16

	// Where outbound PDUs go; required.
	Sender sdeliver.Sender

	// Defaults to a [slower.Transport] with default settings.
	Transport sdeliver.Transport

	// Optional, notified in addition to the event stream.
	Status sdeliver.StatusReporter

	// Optional, called once per outbound transaction
	// for the handler notified when its incomplete timer expires.
	// It may return nil.
	// The [EventFailed] event carries the same identity.
	NewHandler func(dst, seqZero uint16) sdeliver.TransactionHandler

	// Zero means [DefaultIncompleteTimeout].
	IncompleteTimeout time.Duration

	// How long to wait for an acknowledgement
	// before resending every segment not yet acknowledged.
	// Zero disables unprompted retransmission,
	// so segments are only resent in response to acknowledgements.
	RetransmitInterval time.Duration

	// Maximum unprompted retransmission rounds per transaction.
	// Zero means [DefaultRetransmitLimit].
	RetransmitLimit int

	// How long to collect inbound segments
	// before acknowledging an incomplete message.
	// Zero acknowledges every segment as it arrives.
	// Complete messages are always acknowledged immediately.
	AckDelay time.Duration

	// Zero means [DefaultRetiredCapacity].
	RetiredCapacity int

	// Zero means [slower.DefaultReassemblyCapacity].
	ReassemblyCapacity int

	// Defaults to the wall clock.
	// Tests set this to a [clock.Mock].
	Clock clock.Clock

	// Defaults to a no-op provider.
	TracerProvider sotel.TracerProvider
}

// Dispatcher owns every active outbound [sdeliver.Delivery]
// and the reassembly state for inbound messages.
//
// All state is confined to a single main loop goroutine,
// so each Delivery sees its calls serialized.
// The exported methods are safe for concurrent use.
type Dispatcher struct {
	log *slog.Logger

	// The next unpublished node of the event stream.
	// Only the main loop stores to it.
	events atomic.Pointer[spubsub.Stream[Event]]

	sendRequests chan sendRequest
	pdus         chan inboundPDU
	timerFires   chan timerFire

	// Closed when the main loop returns.
	done chan struct{}

	wg sync.WaitGroup
}

// txKey identifies an outbound transaction by its destination,
// or an inbound message by its source.
type txKey struct {
	Peer    uint16
	SeqZero uint16
}

type timerKind uint8

const (
	timerIncomplete timerKind = iota
	timerRetransmit
	timerAck
)

// gatedTimer is a clock timer whose stale callbacks can be discarded.
type gatedTimer struct {
	T *clock.Timer

	// Incremented every time the timer is armed,
	// so that a callback racing with a reset is discarded.
	Gen uint64
}

func (g *gatedTimer) Stop() {
	if g.T != nil {
		g.T.Stop()
		g.T = nil
	}
}

type transaction struct {
	D *sdeliver.Delivery

	Incomplete gatedTimer
	Retransmit gatedTimer

	// The most recent acknowledgement, zero until one arrives.
	LastAck slower.SegmentAck

	Retransmits int

	Span sotel.Span
}

type sendRequest struct {
	Ctx  context.Context
	Msg  *sdeliver.Message
	Resp chan error
}

type inboundPDU struct {
	Src uint16
	PDU slower.PDU
}

type timerFire struct {
	Kind timerKind
	Key  txKey
	Gen  uint64
}

// NewDispatcher returns a new Dispatcher with the given configuration.
// The given context controls the lifecycle of the Dispatcher.
//
// NewDispatcher panics if cfg.Sender is nil.
func NewDispatcher(ctx context.Context, log *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Sender == nil {
		panic(errors.New("BUG: DispatcherConfig.Sender must not be nil"))
	}
	if cfg.Transport == nil {
		cfg.Transport = slower.NewTransport(slower.TransportConfig{})
	}
	if cfg.Status == nil {
		cfg.Status = nopStatus{}
	}
	if cfg.IncompleteTimeout <= 0 {
		cfg.IncompleteTimeout = DefaultIncompleteTimeout
	}
	if cfg.RetransmitLimit <= 0 {
		cfg.RetransmitLimit = DefaultRetransmitLimit
	}
	if cfg.RetiredCapacity <= 0 {
		cfg.RetiredCapacity = DefaultRetiredCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = sotel.NopTracerProvider()
	}

	retired, err := lru.New[txKey, sdeliver.State](cfg.RetiredCapacity)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to create retired transaction cache: %w", err))
	}

	d := &Dispatcher{
		log: log,

		// Unbuffered since the caller blocks on the response anyway.
		sendRequests: make(chan sendRequest),

		// Buffered so a link's receive goroutine rarely blocks.
		pdus: make(chan inboundPDU, 16),

		timerFires: make(chan timerFire, 4),

		done: make(chan struct{}),
	}

	head := spubsub.NewStream[Event]()
	d.events.Store(head)

	l := &loop{
		d:   d,
		cfg: cfg,

		tracer: cfg.TracerProvider.Tracer("github.com/gordian-engine/sardine"),

		active:    make(map[txKey]*transaction),
		byPeer:    make(map[uint16][]txKey),
		retired:   retired,
		ra:        slower.NewReassembler(cfg.ReassemblyCapacity),
		ackTimers: make(map[txKey]*gatedTimer),

		tail: head,
	}

	d.wg.Add(1)
	go l.run(ctx)

	return d
}

// Wait blocks until the Dispatcher's main loop has returned.
// The main loop begins stopping once the context
// passed to [NewDispatcher] is canceled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Events returns the event stream as of the call.
// Every event published after Events returns is reachable from it,
// and earlier events are not.
//
// Callers that keep consuming must advance through Next
// and drop their reference to earlier nodes.
func (d *Dispatcher) Events() *spubsub.Stream[Event] {
	return d.events.Load()
}

// Send starts delivery of msg.
//
// Send returns [AlreadyActiveError] if a transaction
// with the same destination and SeqZero is still in flight.
// The Dispatcher takes ownership of msg.
func (d *Dispatcher) Send(ctx context.Context, msg *sdeliver.Message) error {
	if msg == nil || msg.PDUs == nil {
		return errors.New("cannot send message without PDUs")
	}

	req := sendRequest{
		Ctx:  ctx,
		Msg:  msg,
		Resp: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-d.done:
		return ErrDispatcherStopped
	case d.sendRequests <- req:
		// Okay.
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-d.done:
		return ErrDispatcherStopped
	case err := <-req.Resp:
		return err
	}
}

// HandlePDU accepts a PDU received from the link peer at src.
//
// Parse errors and PDUs whose source does not match src
// are returned to the caller.
// Everything else is processed asynchronously on the main loop.
// The Dispatcher does not retain b.
func (d *Dispatcher) HandlePDU(ctx context.Context, src uint16, b []byte) error {
	p, err := slower.Parse(slices.Clone(b))
	if err != nil {
		return fmt.Errorf("failed to parse PDU from 0x%04x: %w", src, err)
	}
	if p.Src != src {
		return fmt.Errorf("PDU from link peer 0x%04x claims source 0x%04x", src, p.Src)
	}

	// The PDU channel is buffered, so check for a stopped loop first.
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-d.done:
		return ErrDispatcherStopped
	case d.pdus <- inboundPDU{Src: src, PDU: p}:
		return nil
	}
}

// loop holds the state confined to the main loop goroutine.
type loop struct {
	d   *Dispatcher
	cfg DispatcherConfig

	tracer sotel.Tracer

	active  map[txKey]*transaction
	retired *lru.Cache[txKey, sdeliver.State]

	// Keys of active transactions per destination, oldest first.
	byPeer map[uint16][]txKey

	ra *slower.Reassembler

	// Pending delayed acknowledgements, keyed by inbound source.
	ackTimers map[txKey]*gatedTimer

	// Next unpublished node of the event stream.
	tail *spubsub.Stream[Event]
}

func (l *loop) run(ctx context.Context) {
	defer l.d.wg.Done()
	defer close(l.d.done)

	for {
		select {
		case <-ctx.Done():
			l.d.log.Info(
				"Stopping due to context cancellation",
				"cause", context.Cause(ctx),
				"n_active", len(l.active),
			)
			for _, tx := range l.active {
				tx.Incomplete.Stop()
				tx.Retransmit.Stop()
				sotel.SpanError(tx.Span, "dispatcher stopped")
				tx.Span.End()
			}
			for _, t := range l.ackTimers {
				t.Stop()
			}
			return

		case req := <-l.d.sendRequests:
			req.Resp <- l.send(req.Ctx, req.Msg)

		case in := <-l.d.pdus:
			l.handlePDU(in)

		case f := <-l.d.timerFires:
			switch f.Kind {
			case timerIncomplete:
				l.expire(f)
			case timerRetransmit:
				l.retransmitUnacked(f)
			case timerAck:
				l.sendDelayedAck(f)
			default:
				panic(fmt.Errorf("BUG: unknown timer kind %d", f.Kind))
			}
		}
	}
}

func (l *loop) publish(e Event) {
	l.tail.Publish(e)
	l.tail = l.tail.Next
	l.d.events.Store(l.tail)
}

// arm (re)starts g to post a timerFire of kind k for key after dur.
func (l *loop) arm(g *gatedTimer, k timerKind, key txKey, dur time.Duration) {
	g.Stop()
	g.Gen++
	f := timerFire{Kind: k, Key: key, Gen: g.Gen}

	g.T = l.cfg.Clock.AfterFunc(dur, func() {
		select {
		case l.d.timerFires <- f:
		case <-l.d.done:
		}
	})
}

func (l *loop) send(ctx context.Context, msg *sdeliver.Message) error {
	key := txKey{Peer: msg.Dst, SeqZero: msg.SeqZero}
	if _, ok := l.active[key]; ok {
		return AlreadyActiveError{Dst: msg.Dst, SeqZero: msg.SeqZero}
	}

	// A new transaction reuses the key; stale acks for the old one
	// are now indistinguishable from acks for this one.
	l.retired.Remove(key)

	_, span := l.tracer.Start(ctx, "sardine.transaction", sotel.WithAttributes(
		sotel.AddressAttr("dst", msg.Dst),
		sotel.IntAttr("seq_zero", int(msg.SeqZero)),
		sotel.IntAttr("n_pdus", msg.PDUs.Len()),
		sotel.StringAttr("category", msg.Category.String()),
	))

	var h sdeliver.TransactionHandler
	if l.cfg.NewHandler != nil {
		h = l.cfg.NewHandler(msg.Dst, msg.SeqZero)
	}

	dl := sdeliver.New(l.d.log, msg, sdeliver.DeliveryConfig{
		Transport: l.cfg.Transport,
		Sender:    l.cfg.Sender,
		Status:    txStatus{l: l, key: key, cat: msg.Category},
		Handler:   h,
	})

	if err := dl.InitiateSend(); err != nil {
		// Only possible if the Delivery was not idle.
		panic(fmt.Errorf("BUG: new delivery failed to initiate: %w", err))
	}

	if !dl.Segmented() {
		dl.Complete()
		l.retired.Add(key, dl.State())
		span.End()

		l.publish(Event{Kind: EventSent, Peer: msg.Dst, SeqZero: msg.SeqZero, Category: msg.Category})
		return nil
	}

	tx := &transaction{D: dl, Span: span}
	l.active[key] = tx
	l.byPeer[key.Peer] = append(l.byPeer[key.Peer], key)
	l.arm(&tx.Incomplete, timerIncomplete, key, l.cfg.IncompleteTimeout)
	if l.cfg.RetransmitInterval > 0 {
		l.arm(&tx.Retransmit, timerRetransmit, key, l.cfg.RetransmitInterval)
	}

	return nil
}

func (l *loop) expire(f timerFire) {
	tx, ok := l.active[f.Key]
	if !ok || tx.Incomplete.Gen != f.Gen {
		l.d.log.Debug("Ignoring stale incomplete timer", "dst", f.Key.Peer, "seq_zero", f.Key.SeqZero)
		return
	}

	// Publishes EventFailed through txStatus.
	tx.D.IncompleteTimerExpired()

	sotel.SpanError(tx.Span, "incomplete timer expired")
	l.retire(f.Key, tx)
}

func (l *loop) retransmitUnacked(f timerFire) {
	tx, ok := l.active[f.Key]
	if !ok || tx.Retransmit.Gen != f.Gen {
		return
	}

	lost := tx.LastAck.Lost(tx.D.PDUs().Len())
	tx.Retransmits++
	tx.Span.AddEvent("retransmit_unacked", sotel.WithAttributes(
		sotel.SegmentsAttr("unacked", lost),
		sotel.IntAttr("round", tx.Retransmits),
	))
	tx.D.Retransmit(lost)

	if tx.Retransmits < l.cfg.RetransmitLimit {
		l.arm(&tx.Retransmit, timerRetransmit, f.Key, l.cfg.RetransmitInterval)
	} else {
		// Nothing more to do until an acknowledgement or the incomplete timer.
		tx.Retransmit.Stop()
	}
}

func (l *loop) retire(key txKey, tx *transaction) {
	tx.Incomplete.Stop()
	tx.Retransmit.Stop()
	tx.Span.End()
	delete(l.active, key)
	l.retired.Add(key, tx.D.State())

	keys := slices.DeleteFunc(l.byPeer[key.Peer], func(k txKey) bool { return k == key })
	if len(keys) == 0 {
		delete(l.byPeer, key.Peer)
	} else {
		l.byPeer[key.Peer] = keys
	}
}

func (l *loop) handlePDU(in inboundPDU) {
	p := in.PDU
	if p.Dst != l.cfg.LocalAddress {
		l.d.log.Debug(
			"Dropping PDU for another address",
			"src", p.Src, "dst", p.Dst, "kind", p.Kind,
		)
		return
	}

	switch p.Kind {
	case slower.KindSegmentAck:
		l.handleAck(p)

	case slower.KindSegmentedAccess:
		l.handleSegment(p)

	case slower.KindUnsegmentedAccess:
		l.publish(Event{
			Kind:    EventReceived,
			Peer:    p.Src,
			Payload: p.Payload,
		})

	default:
		l.d.log.Debug("Ignoring control PDU", "src", p.Src, "opcode", p.Opcode)
	}
}

func (l *loop) handleAck(p slower.PDU) {
	key := txKey{Peer: p.Src, SeqZero: p.Ack.SeqZero}
	tx, ok := l.active[key]
	if !ok {
		if st, ok := l.retired.Get(key); ok {
			l.d.log.Debug(
				"Ignoring acknowledgement for finished transaction",
				"src", p.Src, "seq_zero", p.Ack.SeqZero, "outcome", st,
			)
		} else {
			l.d.log.Info(
				"Ignoring acknowledgement for unknown transaction",
				"src", p.Src, "seq_zero", p.Ack.SeqZero,
			)
		}
		return
	}

	n := tx.D.PDUs().Len()
	if p.Ack.Complete(n) {
		tx.D.Complete()
		tx.Span.AddEvent("acknowledged")
		l.retire(key, tx)

		l.publish(Event{
			Kind:     EventDelivered,
			Peer:     key.Peer,
			SeqZero:  key.SeqZero,
			Category: tx.D.Category(),
		})
		return
	}

	tx.LastAck = p.Ack

	lost := p.Ack.Lost(n)
	tx.Span.AddEvent("retransmit", sotel.WithAttributes(sotel.SegmentsAttr("lost", lost)))
	tx.D.Retransmit(lost)

	l.arm(&tx.Incomplete, timerIncomplete, key, l.cfg.IncompleteTimeout)
	if l.cfg.RetransmitInterval > 0 {
		tx.Retransmits = 0
		l.arm(&tx.Retransmit, timerRetransmit, key, l.cfg.RetransmitInterval)
	}
}

func (l *loop) handleSegment(p slower.PDU) {
	res, err := l.ra.Add(p)
	if err != nil {
		l.d.log.Info("Dropping bad segment", "src", p.Src, "err", err)
		return
	}

	key := txKey{Peer: p.Src, SeqZero: p.SeqZero}
	complete := res.Payload != nil || l.ra.Complete(p.Src, p.SeqZero)

	if l.cfg.AckDelay <= 0 || complete {
		if t, ok := l.ackTimers[key]; ok {
			t.Stop()
			delete(l.ackTimers, key)
		}
		l.acknowledge(res.AckRequest)
	} else if _, ok := l.ackTimers[key]; !ok {
		t := new(gatedTimer)
		l.ackTimers[key] = t
		l.arm(t, timerAck, key, l.cfg.AckDelay)
	}

	if res.Payload != nil {
		l.publish(Event{
			Kind:    EventReceived,
			Peer:    p.Src,
			SeqZero: p.SeqZero,
			Payload: res.Payload,
		})
	}
}

func (l *loop) sendDelayedAck(f timerFire) {
	t, ok := l.ackTimers[f.Key]
	if !ok || t.Gen != f.Gen {
		return
	}
	delete(l.ackTimers, f.Key)

	req, ok := l.ra.AckRequest(f.Key.Peer, f.Key.SeqZero)
	if !ok {
		l.d.log.Debug(
			"Inbound message evicted before delayed acknowledgement",
			"src", f.Key.Peer, "seq_zero", f.Key.SeqZero,
		)
		return
	}
	l.acknowledge(req)
}

func (l *loop) acknowledge(req sdeliver.BlockAckRequest) {
	if err := l.ackSegment(req); err != nil {
		l.d.log.Warn("Failed to acknowledge segments", "src", req.Src, "seq_zero", req.SeqZero, "err", err)
		return
	}
	l.publish(Event{Kind: EventBlockAckSent, Peer: req.Src, SeqZero: req.SeqZero})
}

// ackSegment routes the acknowledgement through the oldest active Delivery
// to the segment's source, if there is one.
func (l *loop) ackSegment(req sdeliver.BlockAckRequest) error {
	if keys := l.byPeer[req.Src]; len(keys) > 0 {
		return l.active[keys[0]].D.HandleControl(req)
	}

	return sdeliver.SendBlockAck(l.d.log, l.cfg.Transport, l.cfg.Sender, l.cfg.Status, req)
}

// txStatus is the StatusReporter given to each Delivery.
// It runs on the main loop, because the Delivery's methods do.
type txStatus struct {
	l   *loop
	key txKey
	cat scategory.Category
}

func (s txStatus) TransactionFailed(dst uint16, dueToTimeout bool) {
	s.l.cfg.Status.TransactionFailed(dst, dueToTimeout)
	s.l.publish(Event{
		Kind:     EventFailed,
		Peer:     dst,
		SeqZero:  s.key.SeqZero,
		Category: s.cat,
	})
}

func (s txStatus) BlockAckSent(dst uint16) {
	// The event is published by the caller of HandleControl,
	// which knows the acknowledged message.
	s.l.cfg.Status.BlockAckSent(dst)
}

type nopStatus struct{}

func (nopStatus) TransactionFailed(uint16, bool) {}
func (nopStatus) BlockAckSent(uint16)            {}
