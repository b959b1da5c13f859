// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
	"github.com/relabs-tech/inertial_compass/internal/nmeaout"
	"github.com/relabs-tech/inertial_compass/internal/sensors"
)

// mqttSink publishes updates as retained JSON so late subscribers get the
// current heading straight away.
type mqttSink struct {
	client mqtt.Client
	topic  string
}

func (s mqttSink) PublishUpdate(u heading.Update) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("json marshal error (heading): %w", err)
	}
	if token := s.client.Publish(s.topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", s.topic, token.Error())
	}
	return nil
}

// nmeaSink forwards headings to an NMEA listener.
type nmeaSink struct {
	w *nmeaout.Writer
}

func (s nmeaSink) PublishUpdate(u heading.Update) error {
	return s.w.WriteHeading(heading.Heading(u.Heading))
}

// openNMEAPort opens the serial port configured for HDM output, or returns
// nil when none is configured.
func openNMEAPort(cfg *config.Config) (io.ReadWriteCloser, error) {
	if cfg.NMEASerialPort == "" {
		return nil, nil
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:        cfg.NMEASerialPort,
		BaudRate:        uint(cfg.NMEABaudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, fmt.Errorf("open NMEA port %s: %w", cfg.NMEASerialPort, err)
	}
	log.Printf("heading: NMEA HDM output on %s at %d baud", cfg.NMEASerialPort, cfg.NMEABaudRate)
	return port, nil
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return client, nil
}

func subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, handler)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Printf("heading: subscribed to %s", topic)
	return nil
}

// RunHeadingProducer subscribes to raw sensor topics, estimates the compass
// heading and publishes each update to TOPIC_HEADING (and NMEA, if set up).
func RunHeadingProducer() error {
	cfg := config.Get()
	log.Printf("starting inertial-compass heading producer (source=%s)", cfg.HeadingSource)

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDHeading)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("heading: connected to MQTT broker at %s", cfg.MQTTBroker)

	pipeline := NewPipeline(cfg, mqttSink{client: client, topic: cfg.TopicHeading})
	defer pipeline.Estimator.Deactivate()
	if err := pipeline.LoadMagCalibration(cfg); err != nil {
		return err
	}

	port, err := openNMEAPort(cfg)
	if err != nil {
		return err
	}
	if port != nil {
		defer port.Close()
		pipeline.AddSink(nmeaSink{w: nmeaout.NewWriter(port, cfg.NMEATalker)})
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	switch cfg.HeadingSource {
	case config.SourceMock:
		return runMockFeed(pipeline, cfg, stop)

	case config.SourceHMC:
		if err := subscribe(client, cfg.TopicMagHMC, func(_ mqtt.Client, msg mqtt.Message) {
			if err := pipeline.FeedMagRaw(msg.Payload(), time.Now().UnixMilli()); err != nil {
				log.Printf("heading: %v", err)
			}
		}); err != nil {
			return err
		}
		fallthrough

	default:
		useMag := cfg.HeadingSource == config.SourceIMULeft
		if err := subscribe(client, cfg.TopicIMULeft, func(_ mqtt.Client, msg mqtt.Message) {
			if err := pipeline.FeedIMURaw(msg.Payload(), useMag, time.Now().UnixMilli()); err != nil {
				log.Printf("heading: %v", err)
			}
		}); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(time.Duration(cfg.ConsoleLogInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logProgress(pipeline)
		case <-stop:
			log.Println("heading: shutting down")
			return nil
		}
	}
}

// runMockFeed drives the pipeline from the synthetic source at 50 Hz until
// stop fires.
func runMockFeed(p *Pipeline, cfg *config.Config, stop <-chan os.Signal) error {
	src := sensors.NewMockSource(time.Now(), cfg.MockTurnRateDegPerSec)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	logTicker := time.NewTicker(time.Duration(cfg.ConsoleLogInterval) * time.Millisecond)
	defer logTicker.Stop()

	for {
		select {
		case <-ticker.C:
			s, err := src.Next()
			if err != nil {
				return fmt.Errorf("mock source: %w", err)
			}
			p.Feed(s)
		case <-logTicker.C:
			logProgress(p)
		case <-stop:
			log.Println("heading: shutting down")
			return nil
		}
	}
}

func logProgress(p *Pipeline) {
	h, ok := p.Estimator.Current()
	if !ok {
		if tilt, ok := p.Estimator.Tilt(); ok {
			log.Printf("heading: waiting for magnetometer | R=%.1f P=%.1f | %s", tilt.Roll, tilt.Pitch, p.Estimator.Stats())
			return
		}
		log.Printf("heading: waiting for data | %s", p.Estimator.Stats())
		return
	}
	line := fmt.Sprintf("heading: %s", h)
	if pose, ok := p.Estimator.Pose(); ok {
		line += fmt.Sprintf(" | R=%.1f P=%.1f", pose.Roll, pose.Pitch)
	}
	log.Printf("%s | %s", line, p.Estimator.Stats())
}
