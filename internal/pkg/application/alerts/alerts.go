package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
)

//Alerter is what the rest of the application uses to surface a message to the user
type Alerter interface {
	Show(title, message string)
}

//Alert is one message shown to the user
type Alert struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
	Open    bool      `json:"open"`
}

//Listener is called for every alert that is shown
type Listener func(Alert)

//Center keeps the one alert currently on screen plus a short history
type Center struct {
	mu        sync.Mutex
	current   *Alert
	history   []Alert
	limit     int
	listeners map[int]Listener
	nextID    int
	log       logging.Logger
}

//NewCenter creates an alert center that remembers the last historyLimit alerts
func NewCenter(historyLimit int, log logging.Logger) *Center {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Center{
		limit:     historyLimit,
		listeners: map[int]Listener{},
		log:       log,
	}
}

//Show replaces the alert on screen and notifies listeners
func (c *Center) Show(title, message string) {
	a := Alert{
		ID:      uuid.NewString(),
		Title:   title,
		Message: message,
		At:      time.Now().UTC(),
		Open:    true,
	}

	c.mu.Lock()
	c.current = &a
	c.history = append(c.history, a)
	if len(c.history) > c.limit {
		c.history = c.history[len(c.history)-c.limit:]
	}
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	c.log.Infof("alert: %s: %s", title, message)

	for _, l := range listeners {
		l(a)
	}
}

//Close dismisses the alert on screen, if any
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Open = false
	}
}

//Current returns the alert on screen, or false if it was dismissed or none was shown
func (c *Center) Current() (Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || !c.current.Open {
		return Alert{}, false
	}
	return *c.current, true
}

//History returns the remembered alerts, oldest first
func (c *Center) History() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Alert, len(c.history))
	copy(out, c.history)
	return out
}

//Listen registers l and returns a function that removes it again
func (c *Center) Listen(l Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}
