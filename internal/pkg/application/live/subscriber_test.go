package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
)

func TestThatOpenSendsOneFrameForEachUniqueTopic(t *testing.T) {
	feed := newFeedForTest(t)
	sub := NewSubscriber(feed.config(false), logging.NewDiscardLogger())

	t1 := domain.TopicFor("d1", "V1")
	t2 := domain.TopicFor("d1", "V2")
	sub.Subscribe(t1, t1, t2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx, &sinkMock{})

	frames := feed.expectFrames(t, 2)
	feed.expectNoMoreFrames(t)

	if frames[0].Topic != t1 || frames[1].Topic != t2 {
		t.Errorf("unexpected subscribe frames %+v", frames)
	}
	if frames[0].Type != "subscribe" {
		t.Errorf("unexpected frame type %q", frames[0].Type)
	}
}

func TestThatSubscribingTwiceSendsNothingNew(t *testing.T) {
	feed := newFeedForTest(t)
	sub := NewSubscriber(feed.config(false), logging.NewDiscardLogger())
	t1 := domain.TopicFor("d1", "V1")
	sub.Subscribe(t1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx, &sinkMock{})

	feed.expectFrames(t, 1)

	sub.Subscribe(t1)
	sub.Retain([]domain.Topic{t1})
	feed.expectNoMoreFrames(t)

	t3 := domain.TopicFor("d2", "V0")
	sub.Subscribe(t1, t3)
	frames := feed.expectFrames(t, 1)
	if frames[0].Topic != t3 {
		t.Errorf("expected only %s to be subscribed, got %+v", t3, frames)
	}
}

func TestThatMalformedMessagesAreDropped(t *testing.T) {
	feed := newFeedForTest(t)
	sub := NewSubscriber(feed.config(false), logging.NewDiscardLogger())
	sink := &sinkMock{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx, sink)

	waitFor(t, func() bool { return sub.State() == Open && feed.connections() > 0 })

	feed.push(t, `not json at all`)
	feed.push(t, `{"value":1}`)
	feed.push(t, `{"deviceId":"d1","pin":"V1","value":42.5,"time":"2021-01-01T00:00:00Z"}`)

	waitFor(t, func() bool { return len(sink.received()) > 0 })
	time.Sleep(50 * time.Millisecond)

	values := sink.received()
	if len(values) != 1 || values[0].Value != 42.5 {
		t.Errorf("expected exactly the well formed value, got %+v", values)
	}
}

func TestThatTopicsAreReplayedAfterReconnect(t *testing.T) {
	feed := newFeedForTest(t)
	sub := NewSubscriber(feed.config(true), logging.NewDiscardLogger())
	sub.Subscribe(domain.TopicFor("d1", "V1"), domain.TopicFor("d1", "V2"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx, &sinkMock{})

	feed.expectFrames(t, 2)
	feed.dropConnections()

	frames := feed.expectFrames(t, 2)
	if frames[0].Topic != domain.TopicFor("d1", "V1") {
		t.Errorf("unexpected replay %+v", frames)
	}
	waitFor(t, func() bool { return len(sub.Subscribed()) == 2 })
}

func TestThatForgottenTopicsAreNotReplayed(t *testing.T) {
	feed := newFeedForTest(t)
	sub := NewSubscriber(feed.config(true), logging.NewDiscardLogger())
	t1 := domain.TopicFor("d1", "V1")
	t2 := domain.TopicFor("d1", "V2")
	sub.Subscribe(t1, t2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx, &sinkMock{})

	feed.expectFrames(t, 2)
	sub.Forget(t1)
	feed.dropConnections()

	frames := feed.expectFrames(t, 1)
	feed.expectNoMoreFrames(t)
	if frames[0].Topic != t2 {
		t.Errorf("unexpected replay %+v", frames)
	}
}

func TestThatCloseIsTerminal(t *testing.T) {
	feed := newFeedForTest(t)
	sub := NewSubscriber(feed.config(true), logging.NewDiscardLogger())
	sub.Subscribe(domain.TopicFor("d1", "V1"))

	done := make(chan error)
	go func() { done <- sub.Run(context.Background(), &sinkMock{}) }()

	feed.expectFrames(t, 1)
	sub.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %s after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	if sub.State() != Closed || len(sub.Subscribed()) != 0 {
		t.Error("subscriber should be closed with an empty set")
	}
}

func TestThatRunFailsWithoutReconnect(t *testing.T) {
	cfg := config.LiveConfig{URL: "ws://127.0.0.1:1", InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	sub := NewSubscriber(cfg, logging.NewDiscardLogger())

	if err := sub.Run(context.Background(), &sinkMock{}); err == nil {
		t.Error("expected a dial error")
	}
	if sub.State() != Closed {
		t.Errorf("expected closed, got %s", sub.State())
	}
}

type sinkMock struct {
	mu     sync.Mutex
	values []domain.LiveValue
}

func (s *sinkMock) Apply(v domain.LiveValue) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, v)
	return 1
}

func (s *sinkMock) received() []domain.LiveValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LiveValue{}, s.values...)
}

type feedForTest struct {
	server *httptest.Server
	frames chan domain.SubscribeMessage

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFeedForTest(t *testing.T) *feedForTest {
	f := &feedForTest{frames: make(chan domain.SubscribeMessage, 100)}
	upgrader := websocket.Upgrader{}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg := domain.SubscribeMessage{}
			if json.Unmarshal(data, &msg) == nil {
				f.frames <- msg
			}
		}
	}))

	t.Cleanup(f.server.Close)
	return f
}

func (f *feedForTest) config(reconnect bool) config.LiveConfig {
	return config.LiveConfig{
		URL:            "ws" + strings.TrimPrefix(f.server.URL, "http"),
		Reconnect:      reconnect,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

func (f *feedForTest) push(t *testing.T, frame string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conn := f.conns[len(f.conns)-1]
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatal(err)
	}
}

func (f *feedForTest) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *feedForTest) dropConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.conns {
		c.Close()
	}
	f.conns = nil
}

func (f *feedForTest) expectFrames(t *testing.T, count int) []domain.SubscribeMessage {
	frames := []domain.SubscribeMessage{}
	for len(frames) < count {
		select {
		case msg := <-f.frames:
			frames = append(frames, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected %d subscribe frames, got %d", count, len(frames))
		}
	}
	return frames
}

func (f *feedForTest) expectNoMoreFrames(t *testing.T) {
	select {
	case msg := <-f.frames:
		t.Errorf("unexpected subscribe frame %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
