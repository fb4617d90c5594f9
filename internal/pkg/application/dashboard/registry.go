package dashboard

import (
	"context"
	"sync"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/alerts"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/live"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
)

//SinkDecorator wraps the sink live values of orgID are delivered to, e.g. to republish them
type SinkDecorator func(orgID string, next live.Sink) live.Sink

//Registry keeps one mounted board, with its own live feed connection, per organization
type Registry struct {
	backend  Backend
	alerts   alerts.Alerter
	liveCfg  config.LiveConfig
	decorate SinkDecorator
	log      logging.Logger

	mu     sync.Mutex
	boards map[string]*mounted
}

type mounted struct {
	board      *Board
	subscriber *live.Subscriber
}

//NewRegistry creates an empty registry. decorate may be nil.
func NewRegistry(b Backend, alerter alerts.Alerter, liveCfg config.LiveConfig, decorate SinkDecorator, log logging.Logger) *Registry {
	return &Registry{
		backend:  b,
		alerts:   alerter,
		liveCfg:  liveCfg,
		decorate: decorate,
		log:      log,
		boards:   map[string]*mounted{},
	}
}

//Mount returns the board of orgID, creating, loading and connecting it on first use
func (r *Registry) Mount(ctx context.Context, orgID string) (*Board, error) {
	r.mu.Lock()
	if m, ok := r.boards[orgID]; ok {
		r.mu.Unlock()
		return m.board, nil
	}

	sub := live.NewSubscriber(r.liveCfg, r.log.WithField("org", orgID))
	board := NewBoard(orgID, r.backend, sub, r.alerts, r.log)
	r.boards[orgID] = &mounted{board: board, subscriber: sub}
	r.mu.Unlock()

	var sink live.Sink = board
	if r.decorate != nil {
		sink = r.decorate(orgID, sink)
	}

	go func() {
		if err := sub.Run(board.Context(), sink); err != nil {
			r.log.Errorf("live feed of %s stopped: %s", orgID, err)
		}
	}()

	if err := board.Load(ctx); err != nil {
		r.log.Warnf("initial load of %s failed: %s", orgID, err)
	}

	return board, nil
}

//Board returns a mounted board without creating it
func (r *Registry) Board(orgID string) (*Board, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.boards[orgID]
	if !ok {
		return nil, false
	}
	return m.board, true
}

//Subscriber returns the live feed subscriber of a mounted board
func (r *Registry) Subscriber(orgID string) (*live.Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.boards[orgID]
	if !ok {
		return nil, false
	}
	return m.subscriber, true
}

//Unmount closes the board of orgID and its live feed connection
func (r *Registry) Unmount(orgID string) bool {
	r.mu.Lock()
	m, ok := r.boards[orgID]
	delete(r.boards, orgID)
	r.mu.Unlock()

	if !ok {
		return false
	}

	m.board.Close()
	m.subscriber.Close()
	r.log.Infof("unmounted board of %s", orgID)

	return true
}

//Close unmounts every board
func (r *Registry) Close() {
	r.mu.Lock()
	orgs := make([]string, 0, len(r.boards))
	for org := range r.boards {
		orgs = append(orgs, org)
	}
	r.mu.Unlock()

	for _, org := range orgs {
		r.Unmount(org)
	}
}
