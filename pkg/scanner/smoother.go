package scanner

import "math"

// LevelSmoother is an exponential moving average that follows large jumps
// quickly and small fluctuations slowly
type LevelSmoother struct {
	value     float64
	primed    bool
	threshold float64 // above this difference, use kFast
	kFast     float64
	kSlow     float64
}

// NewLevelSmoother creates a smoother with default parameters
func NewLevelSmoother() *LevelSmoother {
	return NewLevelSmootherWithParams(DefaultSmoothThreshold, DefaultKFast, DefaultKSlow)
}

// NewLevelSmootherWithParams creates a smoother with custom parameters
func NewLevelSmootherWithParams(threshold, kFast, kSlow float64) *LevelSmoother {
	return &LevelSmoother{threshold: threshold, kFast: kFast, kSlow: kSlow}
}

// Update feeds one sample and returns the smoothed value
func (s *LevelSmoother) Update(sample float64) float64 {
	if !s.primed {
		s.value, s.primed = sample, true
		return sample
	}

	k := s.kSlow
	if math.Abs(sample-s.value) > s.threshold {
		k = s.kFast
	}
	s.value += (sample - s.value) * k
	return s.value
}

// Value returns the current smoothed value
func (s *LevelSmoother) Value() float64 {
	return s.value
}

// Reset clears the smoother state
func (s *LevelSmoother) Reset() {
	s.value, s.primed = 0, false
}
