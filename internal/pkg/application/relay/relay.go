package relay

import (
	"time"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/live"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
)

//MessagingContext is an interface that allows mocking of messaging.Context parameters
type MessagingContext interface {
	PublishOnTopic(message messaging.TopicMessage) error
}

//LiveValueMessage is published for every live value that reached at least one widget
type LiveValueMessage struct {
	Organization string  `json:"organization"`
	DeviceID     string  `json:"deviceId"`
	Pin          string  `json:"pin"`
	Value        float64 `json:"value"`
	Timestamp    string  `json:"timestamp"`
	Widgets      int     `json:"widgets"`
}

//ContentType returns the content type of the message body
func (m *LiveValueMessage) ContentType() string {
	return "application/json"
}

//TopicName returns the topic the message is published on
func (m *LiveValueMessage) TopicName() string {
	return "dashboard.livevalue"
}

//NewLiveValueMessage creates a message for a value applied to a board of orgID
func NewLiveValueMessage(orgID string, v domain.LiveValue, widgets int) *LiveValueMessage {
	return &LiveValueMessage{
		Organization: orgID,
		DeviceID:     v.DeviceID,
		Pin:          v.Pin,
		Value:        v.Value,
		Timestamp:    v.Time.UTC().Format(time.RFC3339),
		Widgets:      widgets,
	}
}

type publishingSink struct {
	orgID     string
	next      live.Sink
	messenger MessagingContext
	log       logging.Logger
}

//NewSink returns a sink that applies values to next and republishes the ones that matched a widget
func NewSink(orgID string, next live.Sink, messenger MessagingContext, log logging.Logger) live.Sink {
	return &publishingSink{orgID: orgID, next: next, messenger: messenger, log: log}
}

func (s *publishingSink) Apply(v domain.LiveValue) int {
	updated := s.next.Apply(v)
	if updated == 0 {
		return 0
	}

	if err := s.messenger.PublishOnTopic(NewLiveValueMessage(s.orgID, v, updated)); err != nil {
		s.log.Errorf("failed to publish live value for %s: %s", v.Topic(), err.Error())
	}

	return updated
}

//Decorator returns a function that wraps every board's sink with NewSink
func Decorator(messenger MessagingContext, log logging.Logger) func(string, live.Sink) live.Sink {
	return func(orgID string, next live.Sink) live.Sink {
		return NewSink(orgID, next, messenger, log)
	}
}
