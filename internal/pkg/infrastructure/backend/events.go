package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
)

//NotificationEventInput is the create/update payload for a notification event
type NotificationEventInput struct {
	DeviceID       string
	Pin            string
	Subject        string
	Message        string
	ComparisonType domain.ComparisonType
	ThresholdValue float64
	IsActive       bool
}

type eventPayload struct {
	Pin            string                `json:"pin"`
	Subject        string                `json:"subject"`
	Message        string                `json:"message"`
	ComparisonType domain.ComparisonType `json:"comparison_type"`
	ThresholdValue string                `json:"threshold_value"`
	IsActive       bool                  `json:"is_active"`
}

func (in NotificationEventInput) payload() eventPayload {
	return eventPayload{
		Pin:            in.Pin,
		Subject:        in.Subject,
		Message:        in.Message,
		ComparisonType: in.ComparisonType,
		ThresholdValue: strconv.FormatFloat(in.ThresholdValue, 'f', -1, 64),
		IsActive:       in.IsActive,
	}
}

//ListNotificationEvents returns the notification rules configured for a device
func (c *Client) ListNotificationEvents(ctx context.Context, orgID, deviceID string) ([]domain.NotificationEvent, error) {
	events := []domain.NotificationEvent{}
	if err := c.send(ctx, newRequest(http.MethodGet, devicePath(orgID, deviceID, "notification-events", "list")), &events); err != nil {
		return nil, err
	}
	if err := validateEach(events); err != nil {
		return nil, err
	}
	return events, nil
}

//CreateNotificationEvent stores a new rule and returns it as the backend saw it
func (c *Client) CreateNotificationEvent(ctx context.Context, orgID string, in NotificationEventInput) (*domain.NotificationEvent, error) {
	event := &domain.NotificationEvent{}
	r := newRequest(http.MethodPost, devicePath(orgID, in.DeviceID, "notification-events", "")).withJSON(in.payload())
	if err := c.send(ctx, r, event); err != nil {
		return nil, err
	}
	return event, nil
}

//UpdateNotificationEvent replaces the editable fields of a rule
func (c *Client) UpdateNotificationEvent(ctx context.Context, orgID, eventID string, in NotificationEventInput) error {
	r := newRequest(http.MethodPatch, devicePath(orgID, in.DeviceID, "notification-events", url.PathEscape(eventID))).withJSON(in.payload())
	return c.send(ctx, r, nil)
}

//DeleteNotificationEvent removes a rule
func (c *Client) DeleteNotificationEvent(ctx context.Context, orgID, deviceID, eventID string) error {
	return c.send(ctx, newRequest(http.MethodDelete, devicePath(orgID, deviceID, "notification-events", url.PathEscape(eventID))), nil)
}
