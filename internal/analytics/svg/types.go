// Package svg draws the small monthly profit charts embedded in exports and
// the printable report. Output is a self-contained, accessible <svg> element.
package svg

import "html/template"

// LineOpts customises the line chart.
type LineOpts struct {
	Title       string
	Description string
	StrokeColor string
	FillColor   string
	// LossColor marks points below zero; empty uses StrokeColor.
	LossColor string
	AxisColor string
	GridColor string
	Padding   float64
	ShowDots  bool
	TickCount int
	// TickFormat renders y-axis values; defaults to compact k/M notation.
	TickFormat func(float64) string
}

// BarOpts customises the grouped bar chart.
type BarOpts struct {
	Title        string
	Description  string
	SeriesALabel string
	SeriesBLabel string
	ColorA       string
	ColorB       string
	AxisColor    string
	GridColor    string
	Padding      float64
	TickCount    int
	TickFormat   func(float64) string
}

const (
	DefaultWidth   = 720
	DefaultHeight  = 240
	DefaultPadding = 32.0
	DefaultTicks   = 6
)

// Renderer satisfies the chart interfaces of the report view model.
type Renderer struct{}

// Line renders a line chart.
func (Renderer) Line(width, height int, series []float64, labels []string, opts LineOpts) (template.HTML, error) {
	return Line(width, height, series, labels, opts)
}

// Bars renders a grouped bar chart.
func (Renderer) Bars(width, height int, seriesA, seriesB []float64, labels []string, opts BarOpts) (template.HTML, error) {
	return Bars(width, height, seriesA, seriesB, labels, opts)
}
