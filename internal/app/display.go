// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/inertial_compass/internal/config"
	"github.com/relabs-tech/inertial_compass/internal/heading"
)

const (
	displayW = 128
	displayH = 64

	// Compass rose on the right half of the panel.
	roseCX     = 96
	roseCY     = 32
	roseRadius = 28
)

// DisplayData holds the latest update for the display loop.
type DisplayData struct {
	mu     sync.RWMutex
	update heading.Update
	have   bool
}

func (d *DisplayData) PublishUpdate(u heading.Update) error {
	d.mu.Lock()
	d.update = u
	d.have = true
	d.mu.Unlock()
	return nil
}

func (d *DisplayData) snapshot() (heading.Update, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.update, d.have
}

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	data := &DisplayData{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicHeading, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var u heading.Update
		if err := json.Unmarshal(msg.Payload(), &u); err != nil {
			log.Printf("display: heading unmarshal error: %v", err)
			return
		}
		data.PublishUpdate(u)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicHeading)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		u, have := data.snapshot()
		img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
		renderCompass(img, &image.Uniform{C: image1bit.On}, u, have)
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

// renderCompass draws the numeric heading on the left and a rose with a
// north needle on the right. The needle is drawn at the indicator rotation
// so it keeps pointing north as the device turns.
func renderCompass(dst draw.Image, on image.Image, u heading.Update, have bool) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  on,
		Face: basicfont.Face7x13,
	}

	if !have {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawString("Heading")
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawString("Waiting...")
		return
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawString("HDG")
	// basicfont has no '°', so the degree sign is a small drawn ring.
	c := on.At(0, 0)
	drawer.Dot = fixed.P(0, 39)
	drawer.DrawString(strings.TrimSuffix(u.Display, "°"))
	dx, dy := drawer.Dot.X.Round()+2, 39-9
	for _, p := range [][2]int{{1, 0}, {0, 1}, {2, 1}, {1, 2}} {
		dst.Set(dx+p[0], dy+p[1], c)
	}

	for a := 0.0; a < 360; a += 6 {
		s, co := math.Sincos(a * math.Pi / 180)
		dst.Set(roseCX+int(math.Round(roseRadius*s)), roseCY-int(math.Round(roseRadius*co)), c)
	}

	// Screen y grows downwards, so a clockwise screen angle is (sin, -cos).
	s, co := math.Sincos(u.RotateToDeg * math.Pi / 180)
	for r := 0.0; r <= roseRadius-3; r += 0.5 {
		dst.Set(roseCX+int(math.Round(r*s)), roseCY-int(math.Round(r*co)), c)
	}

	drawer.Dot = fixed.P(roseCX+int(math.Round((roseRadius-9)*s))-3, roseCY-int(math.Round((roseRadius-9)*co))+5)
	drawer.DrawString("N")
}
