package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

//Widget is a dashboard tile bound to one pin of one device
type Widget struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Pin          string   `json:"pin"`
	Unit         *string  `json:"unit"`
	MinValue     *Reading `json:"min_value"`
	MaxValue     *Reading `json:"max_value"`
	DefaultValue *Reading `json:"default_value"`
	CreatedAt    string   `json:"created_at,omitempty"`

	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`

	// nil until the first live value arrives
	RealTimeValue *float64   `json:"real_time_value"`
	RealTimeAt    *time.Time `json:"real_time_at"`
}

//UnmarshalJSON accepts the bounds as numbers or numeric strings. An empty string is no bound.
func (w *Widget) UnmarshalJSON(data []byte) error {
	type plain Widget
	raw := struct {
		*plain
		MinValue     json.RawMessage `json:"min_value"`
		MaxValue     json.RawMessage `json:"max_value"`
		DefaultValue json.RawMessage `json:"default_value"`
	}{plain: (*plain)(w)}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if w.MinValue, err = optionalReading(raw.MinValue); err != nil {
		return errors.New("min_value: " + err.Error())
	}
	if w.MaxValue, err = optionalReading(raw.MaxValue); err != nil {
		return errors.New("max_value: " + err.Error())
	}
	if w.DefaultValue, err = optionalReading(raw.DefaultValue); err != nil {
		return errors.New("default_value: " + err.Error())
	}
	return nil
}

func optionalReading(raw json.RawMessage) (*Reading, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, nil
	}

	r := new(Reading)
	if err := r.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return r, nil
}

func readingOf(f *float64) *Reading {
	if f == nil {
		return nil
	}
	r := Reading(*f)
	return &r
}

//Topic returns the live feed topic this widget listens to
func (w Widget) Topic() Topic {
	return TopicFor(w.DeviceID, w.Pin)
}

//Validate checks the fields the dashboard cannot work without
func (w Widget) Validate() error {
	if w.ID == "" {
		return errors.New("widget is missing an id")
	}
	if w.Pin == "" {
		return errors.New("widget " + w.ID + " is missing a pin")
	}
	return nil
}

//Matches reports whether a live value is addressed to this widget
func (w Widget) Matches(v LiveValue) bool {
	return w.DeviceID == v.DeviceID && w.Pin == v.Pin
}

//WithLiveValue returns a copy of the widget carrying the value and time of v
func (w Widget) WithLiveValue(v LiveValue) Widget {
	value := v.Value
	at := v.Time
	w.RealTimeValue = &value
	w.RealTimeAt = &at
	return w
}

//WidgetInput is the create/update payload for a widget. ID is empty on create.
type WidgetInput struct {
	ID           string
	DeviceID     string
	Name         string
	Pin          string
	Unit         string
	MinValue     *float64
	MaxValue     *float64
	DefaultValue *float64
}

//ApplyTo merges the edited fields into w, keeping ownership. The live value is kept only while
//the widget stays on the same pin.
func (in WidgetInput) ApplyTo(w Widget) Widget {
	if in.Pin != w.Pin {
		w.RealTimeValue = nil
		w.RealTimeAt = nil
	}

	w.Name = in.Name
	w.Pin = in.Pin
	if in.Unit != "" {
		unit := in.Unit
		w.Unit = &unit
	} else {
		w.Unit = nil
	}
	w.MinValue = readingOf(in.MinValue)
	w.MaxValue = readingOf(in.MaxValue)
	w.DefaultValue = readingOf(in.DefaultValue)
	return w
}
