// Package memory is the learning feedback store: content-addressed pattern
// fingerprints with win-rate driven status transitions, plus a bounded
// hard-negative buffer of losing examples.
package memory

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/gocityvibes/emini/internal/market"
	"github.com/gocityvibes/emini/internal/prefilter"
)

// Features is the discretized signature a fingerprint is derived from.
// Identical features always produce the identical fingerprint.
type Features struct {
	Setup        prefilter.SetupType `json:"setup"`
	Session      string              `json:"session"`
	Direction    prefilter.Direction `json:"direction"`
	ATRBin       string              `json:"atr_bin"`
	VolumeBin    string              `json:"volume_bin"`
	EMAAlignment string              `json:"ema_alignment"`
	VWAPBin      string              `json:"vwap_distance_bin"`
}

// ExtractFeatures discretizes a candidate's market context into bins.
func ExtractFeatures(cand *prefilter.Candidate) Features {
	ind := cand.Indicators
	return Features{
		Setup:        cand.Setup,
		Session:      cand.Session,
		Direction:    cand.Direction,
		ATRBin:       binATR(ind.ATR),
		VolumeBin:    binVolumeMultiple(ind.VolumeMultiple),
		EMAAlignment: binEMAAlignment(ind),
		VWAPBin:      binVWAPDistance(ind.VWAPDistance),
	}
}

// Fingerprint digests the features into a stable identifier.
func Fingerprint(f Features) string {
	signature := strings.Join([]string{
		string(f.Setup),
		f.Session,
		string(f.Direction),
		f.ATRBin,
		f.VolumeBin,
		f.EMAAlignment,
		f.VWAPBin,
	}, "|")
	sum := md5.Sum([]byte(signature))
	return fmt.Sprintf("pattern_%s", hex.EncodeToString(sum[:])[:12])
}

func binATR(atr float64) string {
	switch {
	case atr < 0.8:
		return "low"
	case atr < 1.2:
		return "normal"
	case atr < 1.6:
		return "elevated"
	default:
		return "high"
	}
}

func binVolumeMultiple(vm float64) string {
	switch {
	case vm < 1.5:
		return "low"
	case vm < 2.0:
		return "normal"
	case vm < 2.5:
		return "high"
	default:
		return "extreme"
	}
}

func binEMAAlignment(ind market.Indicators) string {
	rising := ind.EMA20 > ind.EMA20Prev
	above := ind.CurrentPrice > ind.EMA20
	switch {
	case rising && above:
		return "bull"
	case !rising && !above:
		return "bear"
	default:
		return "mixed"
	}
}

func binVWAPDistance(distance float64) string {
	abs := math.Abs(distance)
	switch {
	case abs < 0.5:
		return "near"
	case abs < 1.0:
		return "medium"
	default:
		return "far"
	}
}
