// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/inertial_compass/internal/calibration"
	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
	"github.com/relabs-tech/inertial_compass/internal/imu"
	"github.com/relabs-tech/inertial_compass/internal/sensors"
)

// CollectMagSamples drains src and keeps the magnetometer readings.
func CollectMagSamples(src sensors.Source) ([]heading.Vector3, error) {
	var out []heading.Vector3
	for {
		s, err := src.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if s.Kind == heading.Magnetometer && s.Vector.IsFinite() {
			out = append(out, s.Vector)
		}
	}
}

// magRecorder accumulates readings from the MQTT callbacks.
type magRecorder struct {
	mu      sync.Mutex
	samples []heading.Vector3
}

func (r *magRecorder) add(v heading.Vector3) {
	r.mu.Lock()
	r.samples = append(r.samples, v)
	r.mu.Unlock()
}

func (r *magRecorder) snapshot() []heading.Vector3 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]heading.Vector3(nil), r.samples...)
}

// RecordMagSamples subscribes to the magnetometer topic selected by
// HEADING_SOURCE and records readings until stop is closed or maxDur
// elapses, whichever comes first.
func RecordMagSamples(cfg *config.Config, stop <-chan struct{}, maxDur time.Duration) ([]heading.Vector3, error) {
	if cfg.HeadingSource == config.SourceMock {
		return nil, fmt.Errorf("calibration: HEADING_SOURCE=%s has no magnetometer to record", cfg.HeadingSource)
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDHeading+"-calibration")
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(250)

	rec := &magRecorder{}
	if cfg.HeadingSource == config.SourceHMC {
		err = subscribe(client, cfg.TopicMagHMC, func(_ mqtt.Client, msg mqtt.Message) {
			var m imu.MagRaw
			if err := json.Unmarshal(msg.Payload(), &m); err != nil {
				log.Printf("calibration: mag payload: %v", err)
				return
			}
			rec.add(m.Sample(time.Now().UnixMilli()).Vector)
		})
	} else {
		err = subscribe(client, cfg.TopicIMULeft, func(_ mqtt.Client, msg mqtt.Message) {
			var raw imu.IMURaw
			if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
				log.Printf("calibration: imu payload: %v", err)
				return
			}
			if s, ok := raw.MagSample(time.Now().UnixMilli()); ok {
				rec.add(s.Vector)
			}
		})
	}
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(maxDur)
	defer timer.Stop()
	select {
	case <-stop:
	case <-timer.C:
		log.Printf("calibration: stopped by timeout after %s", maxDur)
	}
	return rec.snapshot(), nil
}

// FitMagCalibration computes and saves a calibration, logging the result.
func FitMagCalibration(samples []heading.Vector3, source, outPath string) (*calibration.MagCalibration, error) {
	c, err := calibration.ComputeMag(samples, source, time.Now())
	if err != nil {
		return nil, err
	}
	log.Printf("calibration: %d samples, offset (%.2f, %.2f, %.2f), scale (%.2f, %.2f, %.2f), confidence %.2f",
		c.MagStats.Samples,
		c.MagOffset.X, c.MagOffset.Y, c.MagOffset.Z,
		c.MagScale.X, c.MagScale.Y, c.MagScale.Z,
		c.Confidence.Overall)
	for _, n := range c.MagStats.Notes {
		log.Printf("calibration: note: %s", n)
	}
	if err := c.Save(outPath); err != nil {
		return nil, err
	}
	return c, nil
}
