package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

//Topic identifies a (device, pin) subscription on the live feed
type Topic string

//TopicFor builds the topic key for a device pin
func TopicFor(deviceID, pin string) Topic {
	return Topic(fmt.Sprintf("device-id/%s/pin/%s", deviceID, pin))
}

//LiveValue is one reading pushed over the live feed
type LiveValue struct {
	DeviceID string    `json:"deviceId"`
	Pin      string    `json:"pin"`
	Value    float64   `json:"value"`
	Time     time.Time `json:"time"`
}

//Topic returns the topic the value was published on
func (v LiveValue) Topic() Topic {
	return TopicFor(v.DeviceID, v.Pin)
}

//DecodeLiveValue parses a live feed frame. A missing timestamp is replaced by receivedAt.
func DecodeLiveValue(data []byte, receivedAt time.Time) (LiveValue, error) {
	v := LiveValue{}
	if err := json.Unmarshal(data, &v); err != nil {
		return LiveValue{}, fmt.Errorf("malformed live value: %w", err)
	}

	if v.DeviceID == "" || v.Pin == "" {
		return LiveValue{}, errors.New("live value without deviceId or pin")
	}

	if v.Time.IsZero() {
		v.Time = receivedAt
	}

	return v, nil
}

//SubscribeMessage is the only control frame sent to the live feed
type SubscribeMessage struct {
	Type  string `json:"type"`
	Topic Topic  `json:"topic"`
}

//NewSubscribeMessage creates a subscribe frame for topic
func NewSubscribeMessage(topic Topic) SubscribeMessage {
	return SubscribeMessage{Type: "subscribe", Topic: topic}
}
