// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/inertial_compass/internal/calibration"
	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
	"github.com/relabs-tech/inertial_compass/internal/imu"
)

// UpdateSink receives every emitted compass update.
type UpdateSink interface {
	PublishUpdate(u heading.Update) error
}

// SinkFunc adapts a function to UpdateSink.
type SinkFunc func(u heading.Update) error

func (f SinkFunc) PublishUpdate(u heading.Update) error { return f(u) }

// Pipeline wires an Estimator to the compass face and the configured sinks.
// Feed may be called from several goroutines; calls are serialized so sinks
// see updates in the order the needle moved.
type Pipeline struct {
	mu sync.Mutex

	Estimator *heading.Estimator
	Indicator *heading.Indicator

	// MagCalibration, when set, corrects magnetometer samples before they
	// reach the estimator.
	MagCalibration *calibration.MagCalibration

	sinks []UpdateSink
}

// NewPipeline builds an activated pipeline using the throttle and animation
// settings of cfg.
func NewPipeline(cfg *config.Config, sinks ...UpdateSink) *Pipeline {
	p := &Pipeline{
		Estimator: heading.New(heading.WithThrottle(time.Duration(cfg.HeadingThrottleMs) * time.Millisecond)),
		Indicator: heading.NewIndicator(time.Duration(cfg.AnimationDurationMs) * time.Millisecond),
		sinks:     sinks,
	}
	p.Estimator.Activate()
	return p
}

// LoadMagCalibration reads cfg.MagCalibrationFile, if set, into p.
func (p *Pipeline) LoadMagCalibration(cfg *config.Config) error {
	if cfg.MagCalibrationFile == "" {
		return nil
	}
	c, err := calibration.Load(cfg.MagCalibrationFile)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.MagCalibration = c
	p.mu.Unlock()
	log.Printf("heading: mag calibration from %s (%s, confidence %.2f)", cfg.MagCalibrationFile, c.CalibrationAt, c.Confidence.Overall)
	return nil
}

// AddSink registers another consumer of updates. Call it before the first Feed.
func (p *Pipeline) AddSink(s UpdateSink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Feed ingests one sample and, if a heading is due, fans the update out to
// every sink. Sink errors are logged, not returned.
func (p *Pipeline) Feed(s heading.Sample) (heading.Update, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Kind == heading.Magnetometer && p.MagCalibration != nil {
		s.Vector = p.MagCalibration.Apply(s.Vector)
	}

	h, ok := p.Estimator.Ingest(s)
	if !ok {
		return heading.Update{}, false
	}

	u, ok := p.Indicator.Update(h, s.TimestampMs)
	if !ok {
		log.Printf("heading: refusing non-finite heading %v", h.Degrees())
		return heading.Update{}, false
	}
	for _, sink := range p.sinks {
		if err := sink.PublishUpdate(u); err != nil {
			log.Printf("heading: sink error: %v", err)
		}
	}
	return u, true
}

// FeedIMURaw handles one inertial/imu/<side> payload. With useMag false only
// the accelerometer part is used (the magnetometer comes from elsewhere).
// The magnetometer goes in first so that an emission triggered by this
// payload fuses both of its readings.
func (p *Pipeline) FeedIMURaw(payload []byte, useMag bool, tsMs int64) error {
	var raw imu.IMURaw
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("imu payload: %w", err)
	}

	if useMag {
		if s, ok := raw.MagSample(tsMs); ok {
			p.Feed(s)
		}
	}
	p.Feed(raw.AccelSample(tsMs))
	return nil
}

// FeedMagRaw handles one inertial/mag/hmc payload.
func (p *Pipeline) FeedMagRaw(payload []byte, tsMs int64) error {
	var m imu.MagRaw
	if err := json.Unmarshal(payload, &m); err != nil {
		return fmt.Errorf("mag payload: %w", err)
	}
	p.Feed(m.Sample(tsMs))
	return nil
}
