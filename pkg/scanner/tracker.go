package scanner

import (
	"sort"
	"sync"
)

// ChannelTracker keeps busy channels with hysteresis. A channel turns busy
// on its first level at or above the threshold and is released after
// holdMax quiet cycles.
type ChannelTracker struct {
	mu       sync.RWMutex
	channels map[uint16]*trackedChannel
	holdMax  int
	lostAt   int

	onBusy  func(*ChannelInfo)
	onQuiet func(*ChannelInfo)
}

type trackedChannel struct {
	info   ChannelInfo
	hold   int
	active bool
}

// NewChannelTracker creates a tracker with the given hold parameters
func NewChannelTracker(holdMax, lostAt int) *ChannelTracker {
	return &ChannelTracker{
		channels: make(map[uint16]*trackedChannel),
		holdMax:  holdMax,
		lostAt:   lostAt,
	}
}

// SetCallbacks sets the busy and quiet callbacks. They run synchronously
// inside Update without the tracker lock held.
func (t *ChannelTracker) SetCallbacks(onBusy, onQuiet func(*ChannelInfo)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onBusy = onBusy
	t.onQuiet = onQuiet
}

// Update processes one scan cycle
func (t *ChannelTracker) Update(result *ScanResult) {
	var busy, quiet []ChannelInfo

	t.mu.Lock()
	for _, e := range result.Channels {
		tc, exists := t.channels[e.Channel]
		if e.Busy {
			if !exists {
				tc = &trackedChannel{info: ChannelInfo{Channel: e.Channel, FirstCycle: result.Cycle}}
				t.channels[e.Channel] = tc
			}
			tc.hold = t.holdMax
			tc.info.Level = e.Level
			tc.info.LastCycle = result.Cycle
			tc.info.DetectionCount++
			if e.Level > tc.info.MaxLevel {
				tc.info.MaxLevel = e.Level
			}
			if !tc.active {
				tc.active = true
				busy = append(busy, tc.info)
			}
			continue
		}

		if !exists || tc.hold == 0 {
			continue
		}
		tc.hold--
		if tc.hold == t.lostAt && tc.active {
			quiet = append(quiet, tc.info)
		}
		if tc.hold == 0 {
			tc.active = false
		}
	}
	onBusy, onQuiet := t.onBusy, t.onQuiet
	t.mu.Unlock()

	for i := range busy {
		if onBusy != nil {
			onBusy(&busy[i])
		}
	}
	for i := range quiet {
		if onQuiet != nil {
			onQuiet(&quiet[i])
		}
	}
}

// IsBusy reports whether channel ch is held busy
func (t *ChannelTracker) IsBusy(ch uint16) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tc, ok := t.channels[ch]
	return ok && tc.active
}

// BusyChannels returns the channels held busy, in channel order
func (t *ChannelTracker) BusyChannels() []uint16 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var chans []uint16
	for ch, tc := range t.channels {
		if tc.active {
			chans = append(chans, ch)
		}
	}
	sort.Slice(chans, func(i, j int) bool { return chans[i] < chans[j] })
	return chans
}

// Channel returns a copy of the history of ch
func (t *ChannelTracker) Channel(ch uint16) (ChannelInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tc, ok := t.channels[ch]
	if !ok {
		return ChannelInfo{}, false
	}
	return tc.info, true
}

// HoldCounter returns the hold counter of ch
func (t *ChannelTracker) HoldCounter(ch uint16) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tc, ok := t.channels[ch]; ok {
		return tc.hold
	}
	return 0
}

// Prune forgets released channels last busy before cycle
func (t *ChannelTracker) Prune(cycle int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for ch, tc := range t.channels {
		if !tc.active && tc.info.LastCycle < cycle {
			delete(t.channels, ch)
			count++
		}
	}
	return count
}

// Clear removes all tracked channels
func (t *ChannelTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels = make(map[uint16]*trackedChannel)
}
