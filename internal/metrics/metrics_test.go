package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestDisabledCollectorIsNoOp(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordCopy("1", "mixer", time.Millisecond, nil, "")
	c.RecordXrun("1", "underrun")
	c.SetBufferAvail("buf-1", 100)

	c2 := NewCollector(nil)
	c2.RecordTick("0")
}

func TestRecordCopyObservesDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCopy("1", "mixer", 2*time.Millisecond, nil, "")

	count := testutil.CollectAndCount(c.copyDuration, "corefw_pipeline_copy_duration_seconds")
	assert.Equal(t, 1, count)
}

func TestRecordXrunIncrementsCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordXrun("2", "overrun")
	c.RecordXrun("2", "overrun")

	value := testutil.ToFloat64(c.xrunEvents.WithLabelValues("2", "overrun"))
	assert.Equal(t, float64(2), value)
}

func TestSetBufferAvailPublishesGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetBufferAvail("buf-1", 512)
	value := testutil.ToFloat64(c.bufferAvail.WithLabelValues("buf-1"))
	assert.Equal(t, float64(512), value)
}
