package svg

import (
	"errors"
	"fmt"
	"html/template"
	"strings"
)

// Line plots one series, typically monthly net profit. Losses fall below the
// zero axis; the optional area fill is anchored on zero as well.
func Line(width, height int, series []float64, labels []string, opts LineOpts) (template.HTML, error) {
	if len(series) == 0 {
		return "", errors.New("svg: series required")
	}
	if len(series) != len(labels) {
		return "", fmt.Errorf("svg: %d labels for %d points", len(labels), len(series))
	}
	c, err := newCanvas(frame{
		width: width, height: height, padding: opts.Padding,
		axis: opts.AxisColor, grid: opts.GridColor, format: opts.TickFormat,
	}, series)
	if err != nil {
		return "", err
	}
	stroke := orDefault(opts.StrokeColor, "#2563eb")
	fill := orDefault(opts.FillColor, "rgba(37,99,235,0.12)")
	loss := orDefault(opts.LossColor, stroke)

	x := func(i int) float64 {
		if len(series) == 1 {
			return c.pad + c.plotW/2
		}
		return c.pad + float64(i)*c.plotW/float64(len(series)-1)
	}
	points := make([]string, len(series))
	for i, v := range series {
		points[i] = fmt.Sprintf("%.2f %.2f", x(i), c.y(v))
	}
	path := "M" + strings.Join(points, " L")

	c.open("line", orDefault(opts.Title, "Line chart"), orDefault(opts.Description, "Monthly values"))
	c.gridlines(opts.TickCount)
	c.axes()

	zero := c.y(0)
	c.printf(`<path d="%s L%.2f %.2f L%.2f %.2f Z" fill="%s" stroke="none" aria-hidden="true"/>`, path, x(len(series)-1), zero, x(0), zero, fill)
	c.printf(`<path d="%s" fill="none" stroke="%s" stroke-width="2" stroke-linejoin="round" stroke-linecap="round"/>`, path, stroke)

	for i, v := range series {
		if opts.ShowDots {
			color := stroke
			if v < 0 {
				color = loss
			}
			c.printf(`<circle cx="%.2f" cy="%.2f" r="3" fill="%s"><title>%s</title></circle>`, x(i), c.y(v), color, esc(labels[i]+": "+c.format(v)))
		}
		c.xLabel(x(i), labels[i])
	}
	return c.close(), nil
}
