package renderer

import (
	"math"
	"sync/atomic"
	"time"

	approx "github.com/meko-christian/algo-approx"
)

// MeterFloor is the lowest level reported, in dBFS.
const MeterFloor = -120.0

// DefaultMeterRelease is the time a held peak needs to fall by 1/e.
const DefaultMeterRelease = 300 * time.Millisecond

// dbPerNeper converts a natural logarithm of amplitude to decibels.
var dbPerNeper = 20 / math.Ln10

// Levels holds peak levels in dBFS.
type Levels struct {
	Input  []float64 `json:"input"`
	Output []float64 `json:"output"`
}

// meterBank holds peak-hold meters. update runs on the audio goroutine and
// publishes through atomics; read may run anywhere.
type meterBank struct {
	held  []float32
	peaks []atomic.Uint32
	decay float32
}

func newMeterBank(channels int, decay float32) *meterBank {
	return &meterBank{
		held:  make([]float32, channels),
		peaks: make([]atomic.Uint32, channels),
		decay: decay,
	}
}

// releaseFactor returns the per-block decay of a held peak.
func releaseFactor(release time.Duration, blockLength, sampleRate int) float32 {
	if release <= 0 || sampleRate <= 0 {
		return 0
	}

	blockSeconds := float64(blockLength) / float64(sampleRate)

	return float32(approx.FastExp(-blockSeconds / release.Seconds()))
}

// update folds one block of every channel into the meters. Channel c
// occupies buf[c*stride : c*stride+n].
func (m *meterBank) update(buf []float32, stride, n int) {
	for c := range m.held {
		var peak float32

		for _, v := range buf[c*stride : c*stride+n] {
			if v < 0 {
				v = -v
			}

			peak = max(peak, v)
		}

		held := max(peak, m.held[c]*m.decay)
		m.held[c] = held
		m.peaks[c].Store(math.Float32bits(held))
	}
}

func (m *meterBank) reset() {
	clear(m.held)

	for c := range m.peaks {
		m.peaks[c].Store(0)
	}
}

// read returns the current peaks in dBFS.
func (m *meterBank) read() []float64 {
	out := make([]float64, len(m.peaks))
	for c := range m.peaks {
		out[c] = toDB(math.Float32frombits(m.peaks[c].Load()))
	}

	return out
}

// toDB converts a linear peak to dBFS, clamped to MeterFloor.
func toDB(v float32) float64 {
	if v <= 0 {
		return MeterFloor
	}

	return max(dbPerNeper*approx.FastLog(float64(v)), MeterFloor)
}
