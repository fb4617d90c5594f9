package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
)

// numbers travel as strings in widget and event payloads
type widgetPayload struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	Pin          string `json:"pin"`
	MinValue     string `json:"min_value"`
	MaxValue     string `json:"max_value"`
	DefaultValue string `json:"default_value"`
	Unit         string `json:"unit"`
}

func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

//ListWidgets returns the widgets configured for a device
func (c *Client) ListWidgets(ctx context.Context, orgID, deviceID string) ([]domain.Widget, error) {
	widgets := []domain.Widget{}
	if err := c.send(ctx, newRequest(http.MethodGet, devicePath(orgID, deviceID, "widget-boxes", "list")), &widgets); err != nil {
		return nil, err
	}
	if err := validateEach(widgets); err != nil {
		return nil, err
	}
	return widgets, nil
}

//SaveWidget creates (empty in.ID) or replaces a widget. The backend may or may not echo the
//stored record, so the returned widget is nil when it did not.
func (c *Client) SaveWidget(ctx context.Context, orgID string, in domain.WidgetInput) (*domain.Widget, error) {
	payload := widgetPayload{
		ID:           in.ID,
		Name:         in.Name,
		Pin:          in.Pin,
		MinValue:     formatOptional(in.MinValue),
		MaxValue:     formatOptional(in.MaxValue),
		DefaultValue: formatOptional(in.DefaultValue),
		Unit:         in.Unit,
	}

	var saved *domain.Widget
	r := newRequest(http.MethodPut, devicePath(orgID, in.DeviceID, "widget-boxes", "")).withJSON(payload)
	if err := c.send(ctx, r, &saved); err != nil {
		return nil, err
	}

	if saved == nil || saved.ID == "" {
		return nil, nil
	}
	return saved, nil
}

//DeleteWidget removes a widget
func (c *Client) DeleteWidget(ctx context.Context, orgID, deviceID, widgetID string) error {
	return c.send(ctx, newRequest(http.MethodDelete, devicePath(orgID, deviceID, "widget-boxes", url.PathEscape(widgetID))), nil)
}

//Report fetches the historical series of a device pin
func (c *Client) Report(ctx context.Context, orgID, deviceID string, q domain.ReportQuery) ([]domain.ReportPoint, error) {
	query := url.Values{}
	query.Set("pin", q.Pin)
	if q.Start != nil {
		query.Set("start", q.Start.UTC().Format(time.RFC3339))
	}
	if q.End != nil {
		query.Set("end", q.End.UTC().Format(time.RFC3339))
	}

	points := []domain.ReportPoint{}
	if err := c.send(ctx, newRequest(http.MethodGet, devicePath(orgID, deviceID, "report")).withQuery(query), &points); err != nil {
		return nil, err
	}
	return points, nil
}
