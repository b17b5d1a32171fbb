package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// Tray icons are drawn at startup: a filled dot whose colour tracks the
// agent state.
var (
	iconIdle    = renderDot(color.RGBA{0x9e, 0x9e, 0x9e, 0xff})
	iconRunning = renderDot(color.RGBA{0x2e, 0xa0, 0x43, 0xff})
	iconError   = renderDot(color.RGBA{0xd0, 0x3b, 0x2f, 0xff})
	iconStopped = renderDot(color.RGBA{0x5f, 0x63, 0x68, 0xff})
)

const iconSize = 32

func renderDot(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	radius := float64(iconSize)/2 - 2

	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
