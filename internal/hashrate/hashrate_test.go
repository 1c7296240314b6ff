package hashrate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		want  string
	}{
		{"zero", 0, "0.00 H/s"},
		{"plain hashes", 500, "500.00 H/s"},
		{"kilohashes", 1500, "1.50 KH/s"},
		{"megahashes", 2_500_000, "2.50 MH/s"},
		{"gigahashes", 3_000_000_000, "3.00 GH/s"},
		{"terahashes", 4_000_000_000_000, "4.00 TH/s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.rate))
		})
	}
}

func TestRateZeroForUnknownWorker(t *testing.T) {
	tr := NewDefaultTracker()
	r := tr.Rate("nobody", time.Now())
	assert.Zero(t, r.Instantaneous)
	assert.Zero(t, r.EMA)
}

func TestInstantaneousRateUsesAcceptedSharesOnly(t *testing.T) {
	tr := NewTracker(300*time.Second, 120*time.Second)
	base := time.Now()

	tr.AddShare("w1", 10, true, base)
	tr.AddShare("w1", 10, false, base.Add(1*time.Second))

	r := tr.Rate("w1", base.Add(1*time.Second))
	expected := 10 * Diff1Target / MinSpan.Seconds()
	assert.InDelta(t, expected, r.Instantaneous, 1e-6, "rejected shares must not contribute to instantaneous diff sum")
}

func TestInstantaneousRateAppliesMinSpanFloor(t *testing.T) {
	tr := NewTracker(300*time.Second, 120*time.Second)
	base := time.Now()

	tr.AddShare("w1", 10, true, base)
	r := tr.Rate("w1", base.Add(1*time.Second))

	expected := 10 * Diff1Target / MinSpan.Seconds()
	assert.InDelta(t, expected, r.Instantaneous, 1e-6)
}

func TestInstantaneousRateUsesRealSpanBeyondFloor(t *testing.T) {
	tr := NewTracker(300*time.Second, 120*time.Second)
	base := time.Now()

	tr.AddShare("w1", 10, true, base)
	tr.AddShare("w1", 10, true, base.Add(20*time.Second))

	r := tr.Rate("w1", base.Add(20*time.Second))
	expected := 20 * Diff1Target / 20.0
	assert.InDelta(t, expected, r.Instantaneous, 1e-6)
}

func TestSlidingWindowDropsExpiredShares(t *testing.T) {
	tr := NewTracker(10*time.Second, 120*time.Second)
	base := time.Now()

	tr.AddShare("w1", 10, true, base)
	r := tr.Rate("w1", base.Add(20*time.Second))

	assert.Zero(t, r.Instantaneous, "shares older than the window must be pruned")
}

func TestEMAInitializesToFirstInstantaneousValue(t *testing.T) {
	tr := NewTracker(300*time.Second, 120*time.Second)
	base := time.Now()

	tr.AddShare("w1", 10, true, base)
	r := tr.Rate("w1", base)
	assert.InDelta(t, r.Instantaneous, r.EMA, 1e-6)
}

func TestEMAStaysWithinClampOfInstantaneous(t *testing.T) {
	tr := NewTracker(300*time.Second, 5*time.Second)
	base := time.Now()

	tr.AddShare("w1", 1000, true, base)
	tr.AddShare("w1", 1, true, base.Add(200*time.Second))

	r := tr.Rate("w1", base.Add(200*time.Second))
	assert.LessOrEqual(t, r.EMA, EMAClampMultiple*r.Instantaneous+1e-6)
}

func TestRemoveClearsWorkerState(t *testing.T) {
	tr := NewDefaultTracker()
	base := time.Now()
	tr.AddShare("w1", 10, true, base)
	tr.Remove("w1")

	r := tr.Rate("w1", base)
	assert.Zero(t, r.Instantaneous)
	assert.Zero(t, r.EMA)
}
