package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows a countdown for a bounded operation such as a scan:
//
//	p := NewProgressPrinter(w, "Scanning for BLE devices", 10*time.Second, "Processing results")
//	p.Start()
//	defer p.Stop()
//
// Setting one of the stop phases through Callback stops the printer early.
type ProgressPrinter struct {
	w          io.Writer
	prefix     string
	duration   time.Duration
	stopPhases map[string]struct{}

	phase    atomic.Value // string
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer that counts down from duration.
// A zero duration shows the phase without a countdown.
func NewProgressPrinter(w io.Writer, prefix string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		w:          w,
		prefix:     prefix,
		duration:   duration,
		stopPhases: stopSet,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store("Starting")
	return p
}

// Start begins printing on a background goroutine. Calls after the first are ignored.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	startTime := time.Now()
	ticker := time.NewTicker(progressUpdateInterval)

	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.print(startTime)
			}
		}
	}()
}

func (p *ProgressPrinter) print(startTime time.Time) {
	phase := p.phase.Load().(string)
	if p.duration <= 0 {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
		return
	}
	// Round to the nearest second: 3.7s -> 4s
	remaining := p.duration - time.Since(startTime)
	seconds := 0
	if remaining > 0 {
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
}

// Callback returns a function that updates the phase. It is safe for concurrent use.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, ok := p.stopPhases[phase]; ok {
			p.Stop()
		}
	}
}

// Stop ends the display and clears the line. It is safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
			fmt.Fprint(p.w, clearLineSequence)
		}
	})
}
