package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/devicefactory"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Peripheral is what a scan learned about one advertising device.
type Peripheral struct {
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Services    []string  `json:"services,omitempty"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"-"`
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices *hashmap.Map[string, *Peripheral]
	mu      sync.Mutex // guards the fields of stored peripherals
	logger  *logrus.Logger
	opts    *ScanOptions
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	AllowDuplicates bool
	// NameFilter keeps only devices whose local name contains it, case-insensitively.
	NameFilter   string
	ServiceUUIDs []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		AllowDuplicates: true,
	}
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

// Scan listens for advertisements for opts.Duration, or until ctx is done, and returns one
// entry per address sorted by signal strength, strongest first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]Peripheral, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	serviceFilter, err := normalizeServiceFilter(opts.ServiceUUIDs)
	if err != nil {
		return nil, err
	}
	scanOpts := *opts
	scanOpts.ServiceUUIDs = serviceFilter
	s.opts = &scanOpts
	s.devices = hashmap.New[string, *Peripheral]()

	dev, err := devicefactory.NewScanner()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	err = dev.Scan(scanCtx, opts.AllowDuplicates, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	return s.results(), nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	addr := adv.Addr()
	seen := &Peripheral{
		Name:        adv.LocalName(),
		Address:     addr,
		RSSI:        adv.RSSI(),
		Services:    device.NormalizeUUIDs(adv.Services()),
		Connectable: adv.Connectable(),
		LastSeen:    time.Now(),
	}

	prev, existing := s.devices.Get(addr)
	if !existing {
		if !s.shouldInclude(seen) {
			return
		}
		if prev, existing = s.devices.GetOrInsert(addr, seen); !existing {
			s.logger.WithFields(logrus.Fields{
				"device":  seen.Name,
				"address": seen.Address,
				"rssi":    seen.RSSI,
			}).Info("Discovered new device")
			return
		}
	}

	// Range keeps yielding the first stored pointer, so records are updated in place.
	// Scan responses may omit the name.
	s.mu.Lock()
	defer s.mu.Unlock()
	prev.RSSI = seen.RSSI
	prev.Connectable = seen.Connectable
	prev.LastSeen = seen.LastSeen
	if seen.Name != "" {
		prev.Name = seen.Name
	}
	if len(seen.Services) > 0 {
		prev.Services = seen.Services
	}
}

func (s *Scanner) shouldInclude(p *Peripheral) bool {
	if s.opts.NameFilter != "" &&
		!strings.Contains(strings.ToLower(p.Name), strings.ToLower(s.opts.NameFilter)) {
		return false
	}
	if len(s.opts.ServiceUUIDs) == 0 {
		return true
	}
	for _, required := range s.opts.ServiceUUIDs {
		for _, advertised := range p.Services {
			if required == advertised {
				return true
			}
		}
	}
	return false
}

func (s *Scanner) results() []Peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()

	devs := make([]Peripheral, 0, s.devices.Len())
	s.devices.Range(func(_ string, p *Peripheral) bool {
		devs = append(devs, *p)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

func normalizeServiceFilter(uuids []string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	normalized, err := device.ValidateUUID(uuids...)
	if err != nil {
		return nil, fmt.Errorf("invalid service filter: %w", err)
	}
	return normalized, nil
}
