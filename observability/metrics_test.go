package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"dscengine/core/events"
)

type namedEvent string

func (e namedEvent) EventType() string { return string(e) }

func TestDSCMetricsCountsEmittedEvents(t *testing.T) {
	counter := DSC().EventsCounter().WithLabelValues("dsc.test.emitted")
	before := testutil.ToFloat64(counter)

	log := events.NewLog(4)
	fanout := events.Multi{log, DSC()}
	fanout.Emit(namedEvent("dsc.test.emitted"))
	fanout.Emit(namedEvent("dsc.test.emitted"))

	require.Equal(t, before+2, testutil.ToFloat64(counter))
	require.Empty(t, log.Records())
}

func TestObserveOperationDefaultsLabels(t *testing.T) {
	counter := DSC().OperationsCounter().WithLabelValues("unknown", "unknown")
	before := testutil.ToFloat64(counter)
	DSC().ObserveOperation(" ", "", 0)
	require.Equal(t, before+1, testutil.ToFloat64(counter))
}
