package reports

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

//ErrNotEnoughData is returned when a series has fewer than two points to draw a line through
var ErrNotEnoughData = errors.New("a chart needs at least two report points")

//RenderPNG draws points as a line chart with the minimum and maximum annotated
func RenderPNG(w io.Writer, title, unit string, points []domain.ReportPoint) error {
	if len(points) < 2 {
		return ErrNotEnoughData
	}

	sorted := make([]domain.ReportPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	xs := make([]float64, len(sorted))
	ys := make([]float64, len(sorted))
	iMin, iMax := 0, 0

	for i, p := range sorted {
		xs[i] = float64(p.Time.Unix())
		ys[i] = float64(p.Value)

		if ys[i] < ys[iMin] {
			iMin = i
		}
		if ys[i] > ys[iMax] {
			iMax = i
		}
	}

	span := sorted[len(sorted)-1].Time.Sub(sorted[0].Time)
	layout := "15:04"
	if span > 24*time.Hour {
		layout = "02.01 15:04"
	}

	graph := chart.Chart{
		Title: title,
		Background: chart.Style{
			Padding: chart.Box{
				Top:    50,
				Left:   10,
				Right:  25,
				Bottom: 10,
			},
			FillColor: drawing.ColorFromHex("eeeeee"),
		},
		XAxis: chart.XAxis{
			Name:  "Time",
			Range: padded(xs[0], xs[len(xs)-1], 60),
			ValueFormatter: func(v interface{}) string {
				vf := v.(float64)
				return time.Unix(int64(vf), 0).UTC().Format(layout)
			},
		},
		YAxis: chart.YAxis{
			Name: unit,
			NameStyle: chart.Style{
				TextRotationDegrees: 270,
			},
			Range: padded(ys[iMin], ys[iMax], 1),
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    title,
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex("008800"),
					FillColor:   drawing.ColorFromHex("CCFFCC"),
				},
			},
			chart.AnnotationSeries{
				Annotations: []chart.Value2{
					{XValue: xs[iMin], YValue: ys[iMin], Label: fmt.Sprintf("Min %.2f", ys[iMin])},
					{XValue: xs[iMax], YValue: ys[iMax], Label: fmt.Sprintf("Max %.2f", ys[iMax])},
				},
			},
		},
	}

	graph.Elements = []chart.Renderable{
		chart.Legend(&graph),
	}

	return graph.Render(chart.PNG, w)
}

//padded returns a range over [min, max] that is never empty
func padded(min, max, pad float64) *chart.ContinuousRange {
	if max-min < pad {
		min -= pad
		max += pad
	}
	return &chart.ContinuousRange{Min: min, Max: max}
}
