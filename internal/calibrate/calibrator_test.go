package calibrate

import (
	"testing"
	"time"

	"github.com/gocityvibes/emini/config"
	"github.com/gocityvibes/emini/internal/prefilter"
)

func testCalibratorConfig() config.CalibratorConfig {
	return config.CalibratorConfig{
		BaseConfidenceMin: 85,
		FloorMin:          82,
		FloorMax:          92,
		AdjustmentStep:    2,
		WindowSize:        20,
		RecalibrateEvery:  5,
		LowWinRate:        78,
		HighWinRate:       85,
	}
}

func ts() time.Time {
	return time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)
}

func record(c *Calibrator, setup prefilter.SetupType, results ...bool) *Adjustment {
	var adj *Adjustment
	for _, win := range results {
		if a := c.RecordOutcome(setup, win, ts()); a != nil {
			adj = a
		}
	}
	return adj
}

func TestFloorStartsAtBase(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	if got := c.Floor(prefilter.SetupEMAPullback); got != 85 {
		t.Fatalf("floor = %d, want base 85", got)
	}
	if !c.Admit(prefilter.SetupEMAPullback, 85) {
		t.Fatal("confidence at the floor rejected")
	}
	if c.Admit(prefilter.SetupEMAPullback, 84) {
		t.Fatal("confidence below the floor admitted")
	}
}

func TestColdStreakRaisesFloor(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	adj := record(c, prefilter.SetupEMAPullback, false, false, false, true, false) // 20% over 5

	if adj == nil {
		t.Fatal("no adjustment after a cold window")
	}
	if adj.OldFloor != 85 || adj.NewFloor != 87 {
		t.Fatalf("adjustment %d -> %d, want 85 -> 87", adj.OldFloor, adj.NewFloor)
	}
	if got := c.Floor(prefilter.SetupEMAPullback); got != 87 {
		t.Fatalf("floor = %d, want 87", got)
	}
}

func TestHotStreakLowersFloor(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	adj := record(c, prefilter.SetupEMAPullback, true, true, true, true, true)

	if adj == nil || adj.NewFloor != 83 {
		t.Fatalf("adjustment = %+v, want floor lowered to 83", adj)
	}
}

func TestMiddlingWindowHoldsFloor(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	// 80% sits between the raise and lower thresholds
	if adj := record(c, prefilter.SetupEMAPullback, true, true, true, true, false); adj != nil {
		t.Fatalf("unexpected adjustment %+v", adj)
	}
	if got := c.Floor(prefilter.SetupEMAPullback); got != 85 {
		t.Fatalf("floor = %d, want unchanged 85", got)
	}
}

func TestRecalibrationCadence(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	setup := prefilter.SetupVWAPRejection

	// four losses: cadence has not fired yet
	if adj := record(c, setup, false, false, false, false); adj != nil {
		t.Fatalf("adjustment before cadence: %+v", adj)
	}
	// fifth result fires it
	if adj := c.RecordOutcome(setup, false, ts()); adj == nil {
		t.Fatal("no adjustment on the fifth result")
	}
	// next four are quiet again even though the window stays cold
	if adj := record(c, setup, false, false, false, false); adj != nil {
		t.Fatalf("adjustment mid-cadence: %+v", adj)
	}
}

func TestFloorClampedToBand(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	setup := prefilter.SetupEMAPullback

	// relentless losses: 85 -> 87 -> 89 -> 91 -> 92, then pinned
	for i := 0; i < 40; i++ {
		c.RecordOutcome(setup, false, ts())
	}
	if got := c.Floor(setup); got != 92 {
		t.Fatalf("floor = %d, want ceiling 92", got)
	}

	c2 := NewCalibrator(testCalibratorConfig())
	for i := 0; i < 40; i++ {
		c2.RecordOutcome(setup, true, ts())
	}
	if got := c2.Floor(setup); got != 82 {
		t.Fatalf("floor = %d, want floor 82", got)
	}
}

func TestFloorsAreIndependentPerSetup(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	record(c, prefilter.SetupEMAPullback, false, false, false, false, false)

	if got := c.Floor(prefilter.SetupORBRetestGo); got != 85 {
		t.Fatalf("untouched setup floor = %d, want 85", got)
	}
	floors := c.Floors()
	if floors[prefilter.SetupEMAPullback] != 87 {
		t.Fatalf("floors = %v", floors)
	}
}

func TestResetDailyReturnsToBase(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	record(c, prefilter.SetupEMAPullback, false, false, false, false, false)
	if c.Floor(prefilter.SetupEMAPullback) == 85 {
		t.Fatal("setup failed, floor never moved")
	}

	c.ResetDaily()
	if got := c.Floor(prefilter.SetupEMAPullback); got != 85 {
		t.Fatalf("floor after reset = %d, want 85", got)
	}
	// cadence counter is cleared too
	if adj := record(c, prefilter.SetupEMAPullback, false, false, false, false); adj != nil {
		t.Fatalf("adjustment fired early after reset: %+v", adj)
	}
}

func TestHistoryAccumulates(t *testing.T) {
	c := NewCalibrator(testCalibratorConfig())
	record(c, prefilter.SetupEMAPullback, false, false, false, false, false)
	record(c, prefilter.SetupEMAPullback, false, false, false, false, false)

	hist := c.History()
	if len(hist) != 2 {
		t.Fatalf("history = %d entries, want 2", len(hist))
	}
	if hist[1].OldFloor != hist[0].NewFloor {
		t.Fatalf("history not contiguous: %+v", hist)
	}
}
