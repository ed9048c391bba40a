package svg

import (
	"errors"
	"fmt"
	"html/template"
	"math"
)

type barSeries struct {
	values []float64
	label  string
	color  string
	offset float64
}

// Bars compares up to two series per label, typically payments against
// purchase cost. Either series may be empty.
func Bars(width, height int, seriesA, seriesB []float64, labels []string, opts BarOpts) (template.HTML, error) {
	if len(seriesA) == 0 && len(seriesB) == 0 {
		return "", errors.New("svg: at least one series required")
	}
	if len(labels) == 0 {
		return "", errors.New("svg: labels required")
	}
	for name, s := range map[string][]float64{"A": seriesA, "B": seriesB} {
		if len(s) > 0 && len(s) != len(labels) {
			return "", fmt.Errorf("svg: series %s has %d values for %d labels", name, len(s), len(labels))
		}
	}
	c, err := newCanvas(frame{
		width: width, height: height, padding: opts.Padding,
		axis: opts.AxisColor, grid: opts.GridColor, format: opts.TickFormat,
	}, seriesA, seriesB)
	if err != nil {
		return "", err
	}

	group := c.plotW / float64(len(labels))
	barW := group / 3
	var all []barSeries
	if len(seriesA) > 0 {
		all = append(all, barSeries{seriesA, orDefault(opts.SeriesALabel, "Series A"), orDefault(opts.ColorA, "#0ea5e9"), 0.3})
	}
	if len(seriesB) > 0 {
		all = append(all, barSeries{seriesB, orDefault(opts.SeriesBLabel, "Series B"), orDefault(opts.ColorB, "#f97316"), 1.4})
	}

	c.open("bar", orDefault(opts.Title, "Bar chart"), orDefault(opts.Description, "Monthly comparison"))
	c.gridlines(opts.TickCount)
	c.axes()

	for i, label := range labels {
		left := c.pad + float64(i)*group
		for _, s := range all {
			top, h := c.bar(s.values[i])
			c.printf(`<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" aria-label="%s %s"><title>%s</title></rect>`,
				left+barW*s.offset, top, barW, h, s.color, esc(s.label), esc(label), esc(c.format(s.values[i])))
		}
		c.xLabel(left+group/2, label)
	}

	lx := c.pad
	for _, s := range all {
		lx = c.legend(lx, s.color, s.label)
	}
	return c.close(), nil
}

// bar returns the top edge and height of a bar growing from the zero line,
// clipped to the plot area.
func (c *canvas) bar(v float64) (float64, float64) {
	zero := c.y(0)
	end := math.Min(math.Max(c.y(v), c.pad), c.bottom())
	top := math.Min(zero, end)
	return top, math.Abs(zero - end)
}
