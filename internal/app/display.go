package app

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/fusion"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// RunDisplay shows the latest estimate on an SSD1306 OLED until ctx is
// cancelled.
func RunDisplay(ctx context.Context) error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Println("display: initialized")

	if err := dev.Draw(dev.Bounds(), renderLines("AHRS Computer", "", "Waiting for", "estimates"), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	latest := &latestEstimate{}
	client, err := subscribeEstimates(cfg, cfg.MQTTClientIDDisplay, latest.set)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		e, ok := latest.get()
		if err := dev.Draw(dev.Bounds(), renderEstimate(e, ok), image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}
}

// renderEstimate lays out roll, pitch, yaw and heading, one per line, with
// the update variant in the corner.
func renderEstimate(e fusion.Estimate, have bool) *image1bit.VerticalLSB {
	if !have {
		return renderLines("Orientation", "", "Waiting...")
	}

	tag := e.Variant.String()
	if e.Correction.Skipped() {
		tag += "*"
	}
	return renderLines(
		fmt.Sprintf("R: %6.1f %5s", e.Pose.Roll, tag),
		fmt.Sprintf("P: %6.1f", e.Pose.Pitch),
		fmt.Sprintf("Y: %6.1f", e.Pose.Yaw),
		fmt.Sprintf("HDG: %5.1f", e.Heading),
	)
}

func renderLines(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, (i+1)*lineHeight)
		drawer.DrawString(line)
	}
	return img
}
