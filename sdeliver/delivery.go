// Package sdeliver contains [Delivery],
// the state machine that drives reliable delivery
// of one segmented message over a lossy link.
//
// A Delivery sends every PDU of its message once,
// resends only the segments reported lost,
// reports failure once if the incomplete timer expires,
// and emits block acknowledgements for inbound control traffic
// that the lower layer routes to it.
//
// A Delivery has no goroutines and no locks.
// Every method runs to completion synchronously,
// and the caller must serialize all calls into one Delivery.
package sdeliver

import (
	"fmt"
	"log/slog"

	"github.com/gordian-engine/sardine/scategory"
	"github.com/gordian-engine/sardine/spdu"
)

// State is the lifecycle stage of a [Delivery].
type State uint8

const (
	// StateIdle is the state immediately after construction.
	StateIdle State = iota

	// StateSending follows the initial pass over every PDU.
	StateSending

	// StateAwaitingAck follows a retransmission,
	// while waiting for the peer's next block acknowledgement.
	StateAwaitingAck

	// StateCompleted is terminal:
	// the caller observed enough acknowledged segments.
	StateCompleted

	// StateFailed is terminal:
	// the incomplete timer expired.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSending:
		return "Sending"
	case StateAwaitingAck:
		return "AwaitingAck"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether s is [StateCompleted] or [StateFailed].
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// DeliveryConfig is the configuration passed to [New].
type DeliveryConfig struct {
	// Shared with every other Delivery; required.
	Transport Transport

	// Receives every PDU pushed by the Delivery; required.
	Sender Sender

	// Receives failure and acknowledgement notifications; required.
	Status StatusReporter

	// Optional, notified before a timeout failure is reported.
	Handler TransactionHandler
}

// Delivery is the delivery state for a single outbound message.
//
// Create instances with [New].
type Delivery struct {
	log *slog.Logger

	msg *Message

	t  Transport
	s  Sender
	st StatusReporter
	h  TransactionHandler

	state State

	incompleteTimerFired bool
}

// New returns a Delivery in [StateIdle] for msg.
// The Delivery takes ownership of msg.
//
// New panics if msg or any required config field is nil,
// as those indicate a programming error in the caller.
func New(log *slog.Logger, msg *Message, cfg DeliveryConfig) *Delivery {
	if msg == nil || msg.PDUs == nil {
		panic(fmt.Errorf("BUG: sdeliver.New requires a message with PDUs"))
	}
	if cfg.Transport == nil || cfg.Sender == nil || cfg.Status == nil {
		panic(fmt.Errorf(
			"BUG: sdeliver.New requires Transport, Sender, and Status (got %T, %T, %T)",
			cfg.Transport, cfg.Sender, cfg.Status,
		))
	}

	return &Delivery{
		log: log.With("dst", msg.Dst, "seq_zero", msg.SeqZero, "category", msg.Category),

		msg: msg,

		t:  cfg.Transport,
		s:  cfg.Sender,
		st: cfg.Status,
		h:  cfg.Handler,
	}
}

// State returns the current state of d.
func (d *Delivery) State() State {
	return d.state
}

// Message returns the message owned by d.
func (d *Delivery) Message() *Message {
	return d.msg
}

// PDUs returns the PDU set queued for d's message.
// The set must not be modified.
func (d *Delivery) PDUs() *spdu.Set {
	return d.msg.PDUs
}

// Segmented reports whether d's message spans more than one PDU.
func (d *Delivery) Segmented() bool {
	return d.msg.Segmented()
}

// Category returns the category tag of d's message.
func (d *Delivery) Category() scategory.Category {
	return d.msg.Category
}

// InitiateSend pushes every PDU to the Sender in ascending index order
// and moves d to [StateSending].
//
// InitiateSend returns [ErrAlreadyStarted], with no side effects,
// if d is not idle.
func (d *Delivery) InitiateSend() error {
	if d.state != StateIdle {
		return fmt.Errorf("cannot initiate send in state %s: %w", d.state, ErrAlreadyStarted)
	}

	n := d.msg.PDUs.Len()
	d.log.Debug("Initiating send", "n_pdus", n)

	for i, pdu := range d.msg.PDUs.All() {
		d.log.Debug("Sending PDU", "seg", i, "n_pdus", n)
		d.s.SendPDU(d.msg.Dst, pdu)
	}

	d.state = StateSending
	return nil
}

// Retransmit resends the segments at the given indices, in the given order.
//
// Retransmit is a no-op unless d is sending or awaiting an acknowledgement,
// the message is segmented, and lost is non-empty.
// Indices outside the message's PDU set are skipped.
// Resending a segment the peer already holds is harmless.
func (d *Delivery) Retransmit(lost []int) {
	if d.state != StateSending && d.state != StateAwaitingAck {
		d.log.Debug("Ignoring retransmit request", "state", d.state)
		return
	}
	if !d.msg.Segmented() || len(lost) == 0 {
		return
	}

	for _, segO := range lost {
		if _, ok := d.msg.PDUs.Get(segO); !ok {
			d.log.Debug("Skipping out of range segment in loss report", "seg", segO)
			continue
		}

		pdu, err := d.t.RetransmitPDU(d.msg, segO)
		if err != nil {
			d.log.Warn("Failed to regenerate segment", "seg", segO, "err", err)
			continue
		}

		d.log.Debug("Resending segment", "seg", segO)
		d.s.SendPDU(d.msg.Dst, pdu)
	}

	d.state = StateAwaitingAck
}

// IncompleteTimerExpired marks the transaction failed.
//
// Only the first call has any effect:
// it notifies the TransactionHandler, if any,
// then reports TransactionFailed(dst, true) to the StatusReporter,
// and moves d to [StateFailed].
// The timer belongs to a lower layer that may deliver duplicates,
// so later calls are ignored.
// Expiry after [*Delivery.Complete] is also ignored.
func (d *Delivery) IncompleteTimerExpired() {
	if d.incompleteTimerFired {
		d.log.Debug("Ignoring duplicate incomplete timer expiry")
		return
	}
	if d.state == StateCompleted {
		d.log.Debug("Ignoring incomplete timer expiry after completion")
		return
	}

	d.incompleteTimerFired = true
	d.state = StateFailed

	d.log.Info("Incomplete timer expired before all segments were received")

	if d.h != nil {
		d.h.IncompleteTimerExpired(true)
	}
	d.st.TransactionFailed(d.msg.Dst, true)
}

// HandleControl answers an inbound control exchange routed to d,
// by building the block acknowledgement for req,
// pushing it to the Sender,
// and reporting BlockAckSent for the acknowledgement's destination.
//
// HandleControl does not change d's state.
// If the Transport cannot build the acknowledgement,
// the error is returned and nothing is sent.
func (d *Delivery) HandleControl(req BlockAckRequest) error {
	return SendBlockAck(d.log, d.t, d.s, d.st, req)
}

// Complete records that the caller observed enough acknowledged segments,
// moving d to [StateCompleted].
// It has no effect unless d is sending or awaiting an acknowledgement.
func (d *Delivery) Complete() {
	if d.state != StateSending && d.state != StateAwaitingAck {
		d.log.Debug("Ignoring completion", "state", d.state)
		return
	}

	d.state = StateCompleted
	d.log.Debug("Delivery completed")
}

// SendBlockAck builds the acknowledgement for req through t,
// sends it through s, and reports it to st.
//
// This is the same path [*Delivery.HandleControl] uses,
// for callers that must acknowledge a peer
// while no Delivery to that peer is active.
func SendBlockAck(
	log *slog.Logger,
	t Transport,
	s Sender,
	st StatusReporter,
	req BlockAckRequest,
) error {
	ack, err := t.BlockAck(req)
	if err != nil {
		return fmt.Errorf("failed to build block acknowledgement: %w", err)
	}

	log.Debug("Sending block acknowledgement", "ack_dst", ack.Dst, "seq_zero", req.SeqZero)
	s.SendPDU(ack.Dst, ack.PDU)
	st.BlockAckSent(ack.Dst)

	return nil
}
