package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
)

type deviceNamePayload struct {
	Name string `json:"name"`
}

//ListDevices searches the devices of an organization by name. An empty name lists them all.
func (c *Client) ListDevices(ctx context.Context, orgID, name string) ([]domain.Device, error) {
	query := url.Values{}
	query.Set("name", name)

	devices := []domain.Device{}
	if err := c.send(ctx, newRequest(http.MethodGet, orgPath(orgID, "devices", "search")).withQuery(query), &devices); err != nil {
		return nil, err
	}
	if err := validateEach(devices); err != nil {
		return nil, err
	}
	return devices, nil
}

//CreateDevice registers a new device. The returned device carries its auth code.
func (c *Client) CreateDevice(ctx context.Context, orgID, name string) (*domain.Device, error) {
	device := &domain.Device{}
	r := newRequest(http.MethodPost, orgPath(orgID, "devices", "")).withJSON(deviceNamePayload{Name: name})
	if err := c.send(ctx, r, device); err != nil {
		return nil, err
	}
	if device.ID == "" {
		return nil, schemaError(errEmptyData)
	}
	return device, nil
}

//RenameDevice changes the display name of a device
func (c *Client) RenameDevice(ctx context.Context, orgID, deviceID, name string) error {
	r := newRequest(http.MethodPatch, devicePath(orgID, deviceID)).withJSON(deviceNamePayload{Name: name})
	return c.send(ctx, r, nil)
}

//DeleteDevice removes a device together with its widgets and events
func (c *Client) DeleteDevice(ctx context.Context, orgID, deviceID string) error {
	return c.send(ctx, newRequest(http.MethodDelete, devicePath(orgID, deviceID)), nil)
}

//PinList returns the pins a device has published values on
func (c *Client) PinList(ctx context.Context, orgID, deviceID string) ([]string, error) {
	pins := []string{}
	if err := c.send(ctx, newRequest(http.MethodGet, devicePath(orgID, deviceID, "pin-list")), &pins); err != nil {
		return nil, err
	}
	return pins, nil
}
