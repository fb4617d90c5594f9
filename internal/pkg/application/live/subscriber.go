package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
)

//State of the connection to the live feed
type State int

const (
	//Disconnected means no socket is open, either not yet started or waiting to reconnect
	Disconnected State = iota
	//Connecting means a dial is in progress
	Connecting
	//Open means subscribe frames can be sent and values are flowing
	Open
	//Closed is terminal
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const writeTimeout = 10 * time.Second

//Sink receives every well formed value read from the feed
type Sink interface {
	Apply(v domain.LiveValue) int
}

//Subscriber owns the single live feed connection of a board and remembers which topics
//have been subscribed on it, so that every topic is sent at most once per connection.
type Subscriber struct {
	url    string
	cfg    config.LiveConfig
	dialer *websocket.Dialer
	log    logging.Logger
	now    func() time.Time

	// mu guards everything below and serializes writes to conn
	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	wanted map[domain.Topic]struct{}
	marked map[domain.Topic]struct{}
	closed chan struct{}
}

//NewSubscriber creates a subscriber for the feed at cfg.URL. Nothing is dialed until Run.
func NewSubscriber(cfg config.LiveConfig, log logging.Logger) *Subscriber {
	return &Subscriber{
		url:    cfg.URL,
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    log,
		now:    time.Now,
		state:  Disconnected,
		wanted: map[domain.Topic]struct{}{},
		marked: map[domain.Topic]struct{}{},
		closed: make(chan struct{}),
	}
}

//Run connects to the feed and pushes values into sink until ctx is done or Close is called.
//When reconnect is enabled a dropped connection is redialed with exponential backoff and
//every wanted topic is subscribed again on the new connection.
func (s *Subscriber) Run(ctx context.Context, sink Sink) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		opened, err := s.connectAndRead(ctx, sink)

		if s.stopped(ctx) {
			s.Close()
			return nil
		}

		if !s.cfg.Reconnect {
			s.log.Errorf("live feed connection lost: %s", err)
			s.Close()
			return err
		}

		if opened {
			b.Reset()
		}

		wait := b.NextBackOff()
		s.log.Warnf("live feed connection lost (%s), reconnecting in %s", err, wait)

		select {
		case <-ctx.Done():
			s.Close()
			return nil
		case <-s.closed:
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Subscriber) connectAndRead(ctx context.Context, sink Sink) (bool, error) {
	if !s.setState(Connecting) {
		return false, errors.New("subscriber closed")
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		s.setState(Disconnected)
		return false, err
	}

	if err = s.open(conn); err != nil {
		conn.Close()
		s.setState(Disconnected)
		return false, err
	}

	s.log.Infof("live feed connected to %s", s.url)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.drop(conn)
			return true, err
		}

		v, err := domain.DecodeLiveValue(data, s.now().UTC())
		if err != nil {
			s.log.Warnf("dropping live message: %s", err)
			continue
		}

		sink.Apply(v)
	}
}

//open installs conn as the current connection and subscribes every wanted topic on it
func (s *Subscriber) open(conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return errors.New("subscriber closed")
	}

	s.conn = conn
	s.state = Open
	s.marked = map[domain.Topic]struct{}{}

	return s.sendUnmarked(sortedTopics(s.wanted))
}

//drop forgets conn if it is still the current connection
func (s *Subscriber) drop(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == conn {
		s.conn = nil
		s.marked = map[domain.Topic]struct{}{}
		if s.state != Closed {
			s.state = Disconnected
		}
	}
	conn.Close()
}

func (s *Subscriber) setState(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return false
	}
	s.state = state
	return true
}

//sendUnmarked must be called with mu held
func (s *Subscriber) sendUnmarked(topics []domain.Topic) error {
	if s.state != Open || s.conn == nil {
		return nil
	}

	for _, t := range topics {
		if _, ok := s.marked[t]; ok {
			continue
		}

		frame, err := json.Marshal(domain.NewSubscribeMessage(t))
		if err != nil {
			return err
		}

		s.conn.SetWriteDeadline(s.now().Add(writeTimeout))
		if err = s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", t, err)
		}

		s.marked[t] = struct{}{}
		s.log.Debugf("subscribed to %s", t)
	}

	return nil
}

//Subscribe adds topics to the wanted set and, if the socket is open, sends a subscribe
//frame for each one not yet sent on this connection
func (s *Subscriber) Subscribe(topics ...domain.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range topics {
		s.wanted[t] = struct{}{}
	}

	return s.sendUnmarked(dedupe(topics))
}

//Retain replaces the wanted set with topics. Marks for topics that are no longer wanted
//are dropped while marks for topics that remain are kept, then any new topic is subscribed.
func (s *Subscriber) Retain(topics []domain.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[domain.Topic]struct{}, len(topics))
	for _, t := range topics {
		wanted[t] = struct{}{}
	}

	for t := range s.marked {
		if _, ok := wanted[t]; !ok {
			delete(s.marked, t)
		}
	}
	s.wanted = wanted

	return s.sendUnmarked(sortedTopics(wanted))
}

//Forget removes topic from the wanted and subscribed sets. The feed has no unsubscribe
//frame so values may keep arriving; the sink ignores them.
func (s *Subscriber) Forget(topic domain.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.wanted, topic)
	delete(s.marked, topic)
}

//Subscribed returns the topics sent on the current connection
func (s *Subscriber) Subscribed() []domain.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTopics(s.marked)
}

//State returns the current connection state
func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

//Close shuts the socket and clears the subscription set. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return
	}

	s.state = Closed
	close(s.closed)

	if s.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, s.now().Add(time.Second))
		s.conn.Close()
		s.conn = nil
	}

	s.wanted = map[domain.Topic]struct{}{}
	s.marked = map[domain.Topic]struct{}{}
}

func sortedTopics(set map[domain.Topic]struct{}) []domain.Topic {
	topics := make([]domain.Topic, 0, len(set))
	for t := range set {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

func dedupe(topics []domain.Topic) []domain.Topic {
	seen := make(map[domain.Topic]struct{}, len(topics))
	out := make([]domain.Topic, 0, len(topics))
	for _, t := range topics {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
