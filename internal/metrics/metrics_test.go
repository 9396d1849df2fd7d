package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "second register is a no-op")

	ObserveReconcile("shop", OutcomeStarted, 3*time.Second)
	ObserveReconcile("shop", OutcomeStarted, time.Second)
	IncStartAction("shop")
	IncSchedulerTick("hit")
	IncTaskError("manual")

	assert.Equal(t, 2.0, testutil.ToFloat64(reconcileTotal.WithLabelValues("shop", OutcomeStarted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(startActions.WithLabelValues("shop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(schedulerTicks.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(taskErrors.WithLabelValues("manual")))
	assert.NotNil(t, Handler())
}
