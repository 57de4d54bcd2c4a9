package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/herlein/gotal/pkg/tal"
)

// minDwellTime is one symbol at the fastest O-QPSK rate
const minDwellTime = 16 * time.Microsecond

// ScanConfig holds the scanner configuration
type ScanConfig struct {
	Trx      tal.TrxID
	Channels []uint16 // scanned in order

	Threshold    uint8         // ED level at or above which a channel is busy
	DwellTime    time.Duration // ED measurement time per channel
	ScanInterval time.Duration // idle time between cycles

	HoldMax       int // quiet cycles before a busy channel is released
	LostThreshold int // hold counter value that fires OnChannelQuiet

	SmoothingEnabled bool
	SmoothThreshold  float64
	SmoothKFast      float64
	SmoothKSlow      float64

	// Called on the main loop goroutine
	OnChannelBusy  func(info *ChannelInfo)
	OnChannelQuiet func(info *ChannelInfo)

	Logger *zap.SugaredLogger
}

// DefaultConfig returns a configuration covering every channel of id
func DefaultConfig(id tal.TrxID) *ScanConfig {
	return &ScanConfig{
		Trx:              id,
		Channels:         AllChannels(id),
		Threshold:        DefaultThreshold,
		DwellTime:        DefaultDwellTime,
		ScanInterval:     DefaultScanInterval,
		HoldMax:          DefaultHoldMax,
		LostThreshold:    DefaultLostThreshold,
		SmoothingEnabled: true,
		SmoothThreshold:  DefaultSmoothThreshold,
		SmoothKFast:      DefaultKFast,
		SmoothKSlow:      DefaultKSlow,
	}
}

// AllChannels lists the channels of transceiver id
func AllChannels(id tal.TrxID) []uint16 {
	first, last := tal.ChannelRange(id)
	chans := make([]uint16, 0, last-first+1)
	for ch := first; ch <= last; ch++ {
		chans = append(chans, ch)
	}
	return chans
}

// Validate checks the configuration
func (c *ScanConfig) Validate() error {
	if c.Trx >= tal.NumTrx {
		return fmt.Errorf("%w: transceiver %d", ErrInvalidConfig, c.Trx)
	}
	if len(c.Channels) == 0 {
		return ErrNoChannels
	}
	first, last := tal.ChannelRange(c.Trx)
	for _, ch := range c.Channels {
		if ch < first || ch > last {
			return fmt.Errorf("%w: %d on %s", ErrChannelOutOfRange, ch, c.Trx)
		}
	}
	if c.DwellTime < minDwellTime || c.DwellTime > MaxDwellTime {
		return ErrInvalidDwellTime
	}
	if c.HoldMax < 1 || c.LostThreshold < 0 || c.LostThreshold >= c.HoldMax {
		return ErrInvalidTracking
	}
	if c.SmoothingEnabled && (c.SmoothKFast <= 0 || c.SmoothKFast > 1 || c.SmoothKSlow <= 0 || c.SmoothKSlow > 1) {
		return fmt.Errorf("%w: smoothing coefficients must be in (0, 1]", ErrInvalidConfig)
	}
	return nil
}

// ConfigFile is the on-disk form of a scan configuration
type ConfigFile struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Version     string    `yaml:"version"`
	Created     time.Time `yaml:"created"`

	Trx      string         `yaml:"trx"`
	Channels []uint16       `yaml:"channels,omitempty"`
	Scan     ScanParameters `yaml:"scan"`
	Tracking TrackingConfig `yaml:"tracking"`
	Smooth   SmoothingFile  `yaml:"smoothing"`
}

// ScanParameters holds the measurement settings of a ConfigFile
type ScanParameters struct {
	Threshold    uint8         `yaml:"threshold"`
	DwellTime    time.Duration `yaml:"dwell_time"`
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// TrackingConfig holds the busy channel hysteresis of a ConfigFile
type TrackingConfig struct {
	HoldMax       int `yaml:"hold_max"`
	LostThreshold int `yaml:"lost_threshold"`
}

// SmoothingFile holds the level smoother settings of a ConfigFile
type SmoothingFile struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	KFast     float64 `yaml:"k_fast"`
	KSlow     float64 `yaml:"k_slow"`
}

// NewConfigFile captures c for saving
func NewConfigFile(name string, c *ScanConfig) *ConfigFile {
	return &ConfigFile{
		Name:     name,
		Version:  ConfigVersion,
		Created:  time.Now().UTC().Truncate(time.Second),
		Trx:      c.Trx.String(),
		Channels: append([]uint16(nil), c.Channels...),
		Scan: ScanParameters{
			Threshold:    c.Threshold,
			DwellTime:    c.DwellTime,
			ScanInterval: c.ScanInterval,
		},
		Tracking: TrackingConfig{HoldMax: c.HoldMax, LostThreshold: c.LostThreshold},
		Smooth: SmoothingFile{
			Enabled:   c.SmoothingEnabled,
			Threshold: c.SmoothThreshold,
			KFast:     c.SmoothKFast,
			KSlow:     c.SmoothKSlow,
		},
	}
}

// LoadConfigFile reads and validates a scan configuration file
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Version != ConfigVersion {
		return nil, fmt.Errorf("%w: %s", ErrConfigVersion, config.Version)
	}
	if _, err := config.ToScanConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Save writes the file as YAML
func (c *ConfigFile) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ToScanConfig converts the file to a validated ScanConfig. An empty
// channel list means every channel of the transceiver.
func (c *ConfigFile) ToScanConfig() (*ScanConfig, error) {
	id, err := tal.ParseTrxID(c.Trx)
	if err != nil {
		return nil, err
	}
	sc := DefaultConfig(id)
	if len(c.Channels) > 0 {
		sc.Channels = append([]uint16(nil), c.Channels...)
	}
	sc.Threshold = c.Scan.Threshold
	if c.Scan.DwellTime != 0 {
		sc.DwellTime = c.Scan.DwellTime
	}
	sc.ScanInterval = c.Scan.ScanInterval
	if c.Tracking.HoldMax != 0 {
		sc.HoldMax = c.Tracking.HoldMax
		sc.LostThreshold = c.Tracking.LostThreshold
	}
	sc.SmoothingEnabled = c.Smooth.Enabled
	if c.Smooth.Enabled {
		sc.SmoothThreshold = c.Smooth.Threshold
		sc.SmoothKFast = c.Smooth.KFast
		sc.SmoothKSlow = c.Smooth.KSlow
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}
