package rfbtest

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
)

// Animation paints frame number frame onto img. Every pixel is written and
// alpha is always 255, since RFB pixels carry no alpha.
type Animation func(frame int, img *image.RGBA)

var animations = map[string]Animation{
	"wheel":    colorWheel,
	"waves":    waves,
	"plasma":   plasma,
	"orbits":   orbitingCircles,
	"gradient": gradientSweep,
	"bars":     colorBars,
}

// AnimationNames lists the registered animations in sorted order.
func AnimationNames() []string {
	names := make([]string, 0, len(animations))
	for name := range animations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupAnimation returns the named animation.
func LookupAnimation(name string) (Animation, error) {
	a, ok := animations[name]
	if !ok {
		return nil, fmt.Errorf("unknown animation %q (have %v)", name, AnimationNames())
	}
	return a, nil
}

// Frame renders one frame of the named animation. Unknown names render
// the color wheel.
func Frame(name string, frame, width, height int) *image.RGBA {
	a, ok := animations[name]
	if !ok {
		a = colorWheel
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	a(frame, img)
	return img
}

// shade converts floating point components in [0, 1] to an opaque color,
// darkening by alpha as if composed over black.
func shade(r, g, b, alpha float64) color.RGBA {
	return color.RGBA{
		R: uint8(clamp01(r*alpha) * 255),
		G: uint8(clamp01(g*alpha) * 255),
		B: uint8(clamp01(b*alpha) * 255),
		A: 255,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func colorWheel(frame int, img *image.RGBA) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	centerX := float64(width) / 2
	centerY := float64(height) / 2
	maxRadius := math.Min(centerX, centerY) * 0.8

	// one turn every 120 frames
	rotation := float64(frame) * 2 * math.Pi / 120

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			dx := float64(col) - centerX
			dy := float64(row) - centerY
			distance := math.Sqrt(dx*dx + dy*dy)
			if distance > maxRadius {
				img.SetRGBA(col, row, color.RGBA{A: 255})
				continue
			}

			hue := (math.Atan2(dy, dx) + rotation) * 180 / math.Pi
			hue = math.Mod(hue, 360)
			if hue < 0 {
				hue += 360
			}
			r, g, b := hsvToRGB(hue, distance/maxRadius, 1.0)
			img.SetRGBA(col, row, shade(r, g, b, 1.0-(distance/maxRadius)*0.7))
		}
	}
}

func waves(frame int, img *image.RGBA) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	timeOffset := float64(frame) * 0.1

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x := float64(col) / float64(width) * 4 * math.Pi
			y := float64(row) / float64(height) * 3 * math.Pi

			wave1 := math.Sin(x + timeOffset)
			wave2 := math.Sin(y + timeOffset*1.3)
			wave3 := math.Sin((x+y)*0.5 + timeOffset*0.7)

			alpha := math.Max(0.1, (wave1*wave2+1)/2)
			img.SetRGBA(col, row, shade((wave1+1)/2, (wave2+1)/2, (wave3+1)/2, alpha))
		}
	}
}

func plasma(frame int, img *image.RGBA) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	t := float64(frame) * 0.05

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x := float64(col) / float64(width)
			y := float64(row) / float64(height)

			v1 := math.Sin(x*10 + t)
			v2 := math.Sin(y*10 + t*1.2)
			v3 := math.Sin((x+y)*10 + t*0.8)
			v4 := math.Sin(math.Sqrt(x*x+y*y)*10 + t*1.5)
			p := (v1 + v2 + v3 + v4) / 4

			r, g, b := hsvToRGB((p+1)*180, 0.8, 0.9)
			img.SetRGBA(col, row, shade(r, g, b, (math.Abs(p)+0.3)*0.9))
		}
	}
}

func orbitingCircles(frame int, img *image.RGBA) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	centerX := float64(width) / 2
	centerY := float64(height) / 2
	orbitRadius := math.Min(centerX, centerY) * 0.6
	t := float64(frame) * 0.1

	const numCircles = 5
	type circle struct {
		x, y, radius float64
		r, g, b      float64
	}
	circles := make([]circle, numCircles)
	for c := range circles {
		phase := float64(c) * 2 * math.Pi / numCircles
		angle := t*(1.0+float64(c)*0.3) + phase
		r, g, b := hsvToRGB(float64(c)*360/numCircles, 0.8, 0.9)
		circles[c] = circle{
			x:      centerX + math.Cos(angle)*orbitRadius,
			y:      centerY + math.Sin(angle)*orbitRadius,
			radius: 30.0 + float64(c)*10,
			r:      r, g: g, b: b,
		}
	}

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			var r, g, b, a float64
			for _, c := range circles {
				dx := float64(col) - c.x
				dy := float64(row) - c.y
				distance := math.Sqrt(dx*dx + dy*dy)
				if distance > c.radius {
					continue
				}
				alpha := math.Max(0, 1.0-(distance/c.radius)*0.7)
				next := alpha + a*(1-alpha)
				r = (c.r*alpha + r*a) / next
				g = (c.g*alpha + g*a) / next
				b = (c.b*alpha + b*a) / next
				a = next
			}
			img.SetRGBA(col, row, shade(r, g, b, a))
		}
	}
}

func gradientSweep(frame int, img *image.RGBA) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	rotation := float64(frame) * 2 * math.Pi / 90
	centerX := float64(width) / 2
	centerY := float64(height) / 2
	maxDistance := math.Sqrt(centerX*centerX + centerY*centerY)

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			dx := float64(col) - centerX
			dy := float64(row) - centerY
			angle := (math.Atan2(dy, dx) + rotation + math.Pi) / (2 * math.Pi)
			angle -= math.Floor(angle)

			r, g, b := hsvToRGB(angle*360, 0.9, 0.8)
			distance := math.Sqrt(dx*dx + dy*dy)
			img.SetRGBA(col, row, shade(r, g, b, 0.3+0.7*(1.0-distance/maxDistance)))
		}
	}
}

var barColors = [...]color.RGBA{
	{R: 255, G: 255, B: 255, A: 255},
	{R: 255, G: 255, A: 255},
	{G: 255, B: 255, A: 255},
	{G: 255, A: 255},
	{R: 255, B: 255, A: 255},
	{R: 255, A: 255},
	{B: 255, A: 255},
	{A: 255},
}

// colorBars draws eight vertical bars that shift one bar per frame. Every
// component is 0 or 255 so the frame survives any true-colour format.
func colorBars(frame int, img *image.RGBA) {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	for col := 0; col < width; col++ {
		bar := (col*len(barColors)/max(width, 1) + frame) % len(barColors)
		for row := 0; row < height; row++ {
			img.SetRGBA(col, row, barColors[bar])
		}
	}
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	h = math.Mod(h, 360) / 60
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h, 2)-1))
	m := v - c

	var r, g, b float64
	switch int(h) {
	case 0:
		r, g, b = c, x, 0
	case 1:
		r, g, b = x, c, 0
	case 2:
		r, g, b = 0, c, x
	case 3:
		r, g, b = 0, x, c
	case 4:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return r + m, g + m, b + m
}
