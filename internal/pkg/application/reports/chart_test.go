package reports

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
)

func TestThatAReportRendersAsPNG(t *testing.T) {
	start := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	points := []domain.ReportPoint{
		{Pin: "V1", Value: 21.0, Time: start.Add(20 * time.Minute)},
		{Pin: "V1", Value: 20.5, Time: start},
		{Pin: "V1", Value: 22.3, Time: start.Add(40 * time.Minute)},
	}

	buf := &bytes.Buffer{}
	if err := RenderPNG(buf, "Temperature", "°C", points); err != nil {
		t.Fatalf("render failed: %s", err)
	}

	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}

func TestThatAFlatSeriesStillRenders(t *testing.T) {
	start := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)
	points := []domain.ReportPoint{
		{Pin: "V1", Value: 1, Time: start},
		{Pin: "V1", Value: 1, Time: start},
	}

	if err := RenderPNG(&bytes.Buffer{}, "Switch", "", points); err != nil {
		t.Errorf("flat series should render, got %s", err)
	}
}

func TestThatASinglePointIsRejected(t *testing.T) {
	err := RenderPNG(&bytes.Buffer{}, "x", "", []domain.ReportPoint{{Pin: "V1", Value: 1, Time: time.Now()}})
	if !errors.Is(err, ErrNotEnoughData) {
		t.Errorf("expected ErrNotEnoughData, got %v", err)
	}
}
