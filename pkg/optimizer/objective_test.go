package optimizer

import (
	"testing"
	"time"

	"github.com/cuemby/helmsman/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestNetworkLatencyHoldsFlatBelowCapacity(t *testing.T) {
	// spec §4.E.2: bandwidthFactor is zero while demand <= supply, so
	// networkLatency == n.latency for any ratio <= 1.
	n := roomyNode("n1", "us-east")
	n.Performance.Latency = 10
	n.Capacity.Bandwidth = 1000

	task := smallTask("t1")
	task.Demand.Bandwidth = 500 // well under capacity

	assert.InDelta(t, 10, networkLatency(n, task), 1e-9)
}

func TestNetworkLatencyScalesLinearlyOverCapacity(t *testing.T) {
	n := roomyNode("n1", "us-east")
	n.Performance.Latency = 10
	n.Capacity.Bandwidth = 100

	task := smallTask("t1")
	task.Demand.Bandwidth = 300 // 3x oversubscribed

	assert.InDelta(t, 30, networkLatency(n, task), 1e-9)
}

func TestProcessingLatencyIsComputeRatioScaledToMillis(t *testing.T) {
	n := roomyNode("n1", "us-east")
	n.Capacity.Compute = 200

	task := smallTask("t1")
	task.Demand.Compute = 50

	assert.InDelta(t, 250, processingLatency(n, task), 1e-9)
}

func TestReliabilityAppliesComputeAndDurationFloors(t *testing.T) {
	n := roomyNode("n1", "us-east")
	n.Performance.Reliability = 0.9
	n.Performance.Availability = 0.9

	task := smallTask("t1")
	task.Demand.Compute = 50000 // far past the 10000 floor divisor
	task.EstimatedDuration = 10 * time.Hour

	// computeFactor and durationFactor both clamp to their floors
	// (0.9 and 0.95 respectively), per spec §4.E.2.
	want := 0.9 * 0.9 * 0.9 * 0.95
	assert.InDelta(t, want, reliability(n, task), 1e-9)
}

func TestReliabilityUnclampedWithinBounds(t *testing.T) {
	n := roomyNode("n1", "us-east")
	n.Performance.Reliability = 1
	n.Performance.Availability = 1

	task := smallTask("t1")
	task.Demand.Compute = 500                 // computeFactor = 1 - 500/10000 = 0.95
	task.EstimatedDuration = 2 * time.Minute  // durationFactor = 1 - 120000/3600000 ~= 0.9667

	want := (1 - 500.0/10000) * (1 - 120000.0/3_600_000)
	assert.InDelta(t, want, reliability(n, task), 1e-9)
}
