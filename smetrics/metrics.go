// Package smetrics records Prometheus metrics for sardine.
package smetrics

import (
	"context"

	"github.com/gordian-engine/sardine"
	"github.com/gordian-engine/sardine/sdeliver"
	"github.com/gordian-engine/sardine/spubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every sardine metric.
// Wrap a dispatcher's Sender and StatusReporter with it,
// and feed it the dispatcher's events.
type Collector struct {
	pdusSent  prometheus.Counter
	bytesSent prometheus.Counter

	failed    *prometheus.CounterVec
	blockAcks prometheus.Counter

	events *prometheus.CounterVec
}

// NewCollector registers the sardine metrics on reg,
// with names prefixed by namespace.
// It panics if the metrics are already registered, like promauto does.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	f := promauto.With(reg)

	return &Collector{
		pdusSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdus_sent_total",
			Help:      "The total number of PDUs handed to the link",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdu_bytes_sent_total",
			Help:      "The total size of PDUs handed to the link",
		}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_failed_total",
			Help:      "The total number of failed outbound transactions",
		}, []string{"reason"}),
		blockAcks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "block_acks_sent_total",
			Help:      "The total number of block acknowledgements sent",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "The total number of dispatcher events, by kind",
		}, []string{"kind"}),
	}
}

// Sender returns an [sdeliver.Sender] that counts PDUs
// before passing them to s.
func (c *Collector) Sender(s sdeliver.Sender) sdeliver.Sender {
	return sdeliver.SenderFunc(func(dst uint16, pdu []byte) {
		c.pdusSent.Inc()
		c.bytesSent.Add(float64(len(pdu)))
		s.SendPDU(dst, pdu)
	})
}

// Status returns an [sdeliver.StatusReporter] that counts notifications
// before passing them to st, which may be nil.
func (c *Collector) Status(st sdeliver.StatusReporter) sdeliver.StatusReporter {
	return statusReporter{c: c, next: st}
}

type statusReporter struct {
	c    *Collector
	next sdeliver.StatusReporter
}

func (r statusReporter) TransactionFailed(dst uint16, dueToTimeout bool) {
	reason := "other"
	if dueToTimeout {
		reason = "timeout"
	}
	r.c.failed.WithLabelValues(reason).Inc()

	if r.next != nil {
		r.next.TransactionFailed(dst, dueToTimeout)
	}
}

func (r statusReporter) BlockAckSent(dst uint16) {
	r.c.blockAcks.Inc()

	if r.next != nil {
		r.next.BlockAckSent(dst)
	}
}

// ObserveEvents counts every event reachable from s
// until ctx is canceled.
func (c *Collector) ObserveEvents(ctx context.Context, s *spubsub.Stream[sardine.Event]) {
	for {
		e, next, err := s.Await(ctx)
		if err != nil {
			return
		}
		c.events.WithLabelValues(e.Kind.String()).Inc()
		s = next
	}
}
