package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"dataspace/core/events"
	"dataspace/core/types"
)

func TestRuntimeObserve(t *testing.T) {
	m := Runtime()
	okBefore := testutil.ToFloat64(m.calls.WithLabelValues("confirm", "success"))
	errBefore := testutil.ToFloat64(m.calls.WithLabelValues("confirm", "error"))

	m.Observe("confirm", nil, time.Millisecond)
	m.Observe("confirm", errors.New("boom"), time.Millisecond)

	require.Equal(t, okBefore+1, testutil.ToFloat64(m.calls.WithLabelValues("confirm", "success")))
	require.Equal(t, errBefore+1, testutil.ToFloat64(m.calls.WithLabelValues("confirm", "error")))
}

func TestRuntimeVerdictsAndRejections(t *testing.T) {
	m := Runtime()
	before := testutil.ToFloat64(m.verdicts.WithLabelValues("true"))
	m.RecordVerdict(true)
	require.Equal(t, before+1, testutil.ToFloat64(m.verdicts.WithLabelValues("true")))

	rejected := testutil.ToFloat64(m.rejections.WithLabelValues("unknown", "paused"))
	m.RecordRejection("", "paused")
	require.Equal(t, rejected+1, testutil.ToFloat64(m.rejections.WithLabelValues("unknown", "paused")))
}

func TestHTTPObserveCountsErrors(t *testing.T) {
	m := HTTP()
	before := testutil.ToFloat64(m.errors.WithLabelValues("/v1/escrow/buy", "POST", "402"))
	m.Observe("/v1/escrow/buy", "post", 402, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.errors.WithLabelValues("/v1/escrow/buy", "POST", "402")))
}

func TestEventsEmitterCountsByType(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("dataspace.escrow.confirmed"))
	var emitter events.Emitter = m
	emitter.Emit(events.Wrap(&types.Event{Type: "dataspace.escrow.confirmed"}))
	require.Equal(t, before+1, testutil.ToFloat64(m.emitted.WithLabelValues("dataspace.escrow.confirmed")))
}
