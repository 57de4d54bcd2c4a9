package scanner

import (
	"time"

	"github.com/herlein/gotal/pkg/tal"
)

// ChannelEnergy is one measurement of one channel
type ChannelEnergy struct {
	Channel  uint16
	Level    uint8   // raw ED level 0..255
	Smoothed float64 // smoothed level, equal to Level without smoothing
	Busy     bool    // Level at or above the threshold
}

// DBm converts the raw level
func (e ChannelEnergy) DBm() int {
	return tal.LevelToDBm(e.Level)
}

// ScanResult holds one pass over the configured channels
type ScanResult struct {
	Trx      tal.TrxID
	Cycle    int
	Duration time.Duration
	Channels []ChannelEnergy
}

// Quietest returns the channel with the lowest smoothed level. Ties go to
// the channel scanned first.
func (r *ScanResult) Quietest() (ChannelEnergy, bool) {
	return r.pick(func(a, b float64) bool { return a < b })
}

// Busiest returns the channel with the highest smoothed level
func (r *ScanResult) Busiest() (ChannelEnergy, bool) {
	return r.pick(func(a, b float64) bool { return a > b })
}

func (r *ScanResult) pick(better func(a, b float64) bool) (ChannelEnergy, bool) {
	if len(r.Channels) == 0 {
		return ChannelEnergy{}, false
	}
	best := r.Channels[0]
	for _, e := range r.Channels[1:] {
		if better(e.Smoothed, best.Smoothed) {
			best = e
		}
	}
	return best, true
}

// BusyCount returns the number of channels above the threshold
func (r *ScanResult) BusyCount() int {
	n := 0
	for _, e := range r.Channels {
		if e.Busy {
			n++
		}
	}
	return n
}

// ChannelInfo is the tracked history of a busy channel
type ChannelInfo struct {
	Channel        uint16
	Level          uint8 // last busy level
	MaxLevel       uint8
	FirstCycle     int
	LastCycle      int
	DetectionCount uint32
}
