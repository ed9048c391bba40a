package svg

import (
	"errors"
	"fmt"
	"html/template"
	"math"
	"strings"
)

var errViewport = errors.New("svg: viewport too small")

// canvas holds the plot geometry shared by both chart kinds. The value range
// always includes zero so the x axis doubles as the break-even line.
type canvas struct {
	b      strings.Builder
	width  int
	height int
	pad    float64
	plotW  float64
	plotH  float64
	lo, hi float64
	axis   string
	grid   string
	format func(float64) string
}

type frame struct {
	width, height int
	padding       float64
	axis, grid    string
	format        func(float64) string
}

func newCanvas(f frame, series ...[]float64) (*canvas, error) {
	if f.width <= 0 {
		f.width = DefaultWidth
	}
	if f.height <= 0 {
		f.height = DefaultHeight
	}
	if f.padding <= 0 {
		f.padding = DefaultPadding
	}
	c := &canvas{
		width:  f.width,
		height: f.height,
		pad:    f.padding,
		plotW:  float64(f.width) - 2*f.padding,
		plotH:  float64(f.height) - 2*f.padding,
		axis:   orDefault(f.axis, "#475569"),
		grid:   orDefault(f.grid, "#cbd5f5"),
		format: f.format,
	}
	if c.plotW <= 0 || c.plotH <= 0 {
		return nil, errViewport
	}
	if c.format == nil {
		c.format = compact
	}
	for _, s := range series {
		for _, v := range s {
			c.lo = math.Min(c.lo, v)
			c.hi = math.Max(c.hi, v)
		}
	}
	if c.hi-c.lo < 1e-9 {
		c.hi = c.lo + 1
	}
	return c, nil
}

func (c *canvas) bottom() float64 { return c.pad + c.plotH }

func (c *canvas) y(v float64) float64 {
	return c.bottom() - (v-c.lo)/(c.hi-c.lo)*c.plotH
}

func (c *canvas) printf(format string, args ...any) {
	fmt.Fprintf(&c.b, format, args...)
}

func (c *canvas) open(kind, title, desc string) {
	titleID := elementID(title, kind+"-title")
	descID := elementID(title, kind+"-desc")
	c.printf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" role="img" aria-labelledby="%s %s">`, c.width, c.height, titleID, descID)
	c.printf(`<title id="%s">%s</title>`, titleID, esc(title))
	c.printf(`<desc id="%s">%s</desc>`, descID, esc(desc))
}

// gridlines draws evenly spaced horizontal guides with their y labels.
func (c *canvas) gridlines(ticks int) {
	if ticks <= 0 {
		ticks = DefaultTicks
	}
	right := c.pad + c.plotW
	for i := 0; i <= ticks; i++ {
		v := c.lo + (c.hi-c.lo)*float64(i)/float64(ticks)
		y := c.y(v)
		c.printf(`<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="0.5" stroke-dasharray="2,4" aria-hidden="true"/>`, c.pad, y, right, y, c.grid)
		c.printf(`<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="end">%s</text>`, c.pad-6, y+4, c.axis, esc(c.format(v)))
	}
}

// axes draws the y axis and the zero line.
func (c *canvas) axes() {
	zero := c.y(0)
	c.printf(`<g stroke="%s" aria-label="Axes">`, c.axis)
	c.printf(`<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke-width="1"/>`, c.pad, c.pad, c.pad, c.bottom())
	c.printf(`<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke-width="1"/>`, c.pad, zero, c.pad+c.plotW, zero)
	c.b.WriteString(`</g>`)
}

func (c *canvas) xLabel(x float64, label string) {
	c.printf(`<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="middle">%s</text>`, x, c.bottom()+14, c.axis, esc(label))
}

func (c *canvas) legend(x float64, color, label string) float64 {
	y := math.Max(c.pad-12, 12)
	c.printf(`<rect x="%.2f" y="%.2f" width="10" height="10" fill="%s"/>`, x, y-8, color)
	c.printf(`<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="start">%s</text>`, x+14, y, c.axis, esc(label))
	return x + 30 + 7*float64(len(label))
}

func (c *canvas) close() template.HTML {
	c.b.WriteString(`</svg>`)
	return template.HTML(c.b.String())
}

func esc(s string) string { return template.HTMLEscapeString(s) }

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func elementID(base, suffix string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(base)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	id := strings.TrimRight(b.String(), "-")
	if id == "" {
		id = "chart"
	}
	return id + "-" + suffix
}

// compact renders money ticks as 950, 1.5k, 2.3M.
func compact(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1e9:
		return fmt.Sprintf("%.1fB", v/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.1fk", v/1e3)
	case math.Abs(v-math.Round(v)) < 1e-9:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
