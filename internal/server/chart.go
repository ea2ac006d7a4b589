package server

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/strata/internal/models"
)

// RenderEquityChart renders a PNG line chart of a completed job's equity
// curve, with the initial capital drawn as a dashed baseline.
// Returns raw PNG bytes.
func RenderEquityChart(job *models.Job, curve []models.EquityPoint) ([]byte, error) {
	if len(curve) < 2 {
		return nil, fmt.Errorf("need at least 2 equity points, got %d", len(curve))
	}

	xValues := make([]time.Time, len(curve))
	equityY := make([]float64, len(curve))
	capitalY := make([]float64, len(curve))

	for i, p := range curve {
		t, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid equity point date %q: %w", p.Date, err)
		}
		xValues[i] = t
		equityY[i] = p.Value
		capitalY[i] = job.InitialCapital
	}

	equitySeries := chart.TimeSeries{
		Name: "Equity",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: equityY,
	}

	capitalSeries := chart.TimeSeries{
		Name: "Initial Capital",
		Style: chart.Style{
			StrokeColor:     drawing.ColorFromHex("9ca3af"), // gray-400
			StrokeWidth:     1.5,
			StrokeDashArray: []float64{5.0, 3.0},
		},
		XValues: xValues,
		YValues: capitalY,
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s / %s", job.Strategy, job.Symbol),
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("Jan 06")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			equitySeries,
			capitalSeries,
		},
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}
