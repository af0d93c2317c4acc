package smetrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/sardine"
	"github.com/gordian-engine/sardine/internal/stest"
	"github.com/gordian-engine/sardine/sdeliver/sdelivertest"
	"github.com/gordian-engine/sardine/smetrics"
	"github.com/gordian-engine/sardine/spubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_SenderAndStatus(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := smetrics.NewCollector(reg, "sardine")

	rs := new(sdelivertest.RecordingSender)
	s := c.Sender(rs)
	s.SendPDU(2, []byte("abc"))
	s.SendPDU(3, []byte("de"))
	require.Len(t, rs.Sends(), 2)

	st := new(sdelivertest.RecordingStatus)
	status := c.Status(st)
	status.TransactionFailed(2, true)
	status.TransactionFailed(2, false)
	status.BlockAckSent(3)

	require.Len(t, st.Failures(), 2)
	require.Equal(t, []uint16{3}, st.BlockAcks())

	// A nil inner reporter is allowed.
	c.Status(nil).BlockAckSent(4)

	n, err := testutil.GatherAndCount(reg,
		"sardine_pdus_sent_total",
		"sardine_pdu_bytes_sent_total",
		"sardine_transactions_failed_total",
		"sardine_block_acks_sent_total",
	)
	require.NoError(t, err)
	require.Equal(t, 5, n) // Two failure label values.

	mfs, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += "/" + lp.GetValue()
			}
			values[name] = m.GetCounter().GetValue()
		}
	}
	require.Equal(t, map[string]float64{
		"sardine_pdus_sent_total":                   2,
		"sardine_pdu_bytes_sent_total":              5,
		"sardine_transactions_failed_total/other":   1,
		"sardine_transactions_failed_total/timeout": 1,
		"sardine_block_acks_sent_total":             2,
	}, values)
}

func TestCollector_ObserveEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := smetrics.NewCollector(reg, "sardine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	head := spubsub.NewStream[sardine.Event]()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.ObserveEvents(ctx, head)
	}()

	tail := head
	for _, k := range []sardine.EventKind{sardine.EventDelivered, sardine.EventDelivered, sardine.EventFailed} {
		tail.Publish(sardine.Event{Kind: k})
		tail = tail.Next
	}

	require.Eventually(t, func() bool {
		n, err := testutil.GatherAndCount(reg, "sardine_events_total")
		return err == nil && n == 2
	}, stest.ScheduleTimeout, time.Millisecond)

	require.Eventually(t, func() bool {
		mfs, err := reg.Gather()
		if err != nil {
			return false
		}
		var total float64
		for _, mf := range mfs {
			if mf.GetName() != "sardine_events_total" {
				continue
			}
			for _, m := range mf.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		}
		return total == 3
	}, stest.ScheduleTimeout, time.Millisecond)

	cancel()
	_ = stest.ReceiveSoon(t, done)
}

func TestNewCollector_duplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_ = smetrics.NewCollector(reg, "sardine")
	require.Panics(t, func() {
		smetrics.NewCollector(reg, "sardine")
	})

	// A different namespace does not collide.
	_ = smetrics.NewCollector(reg, "other")
}
