package dashboard

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/alerts"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/backend"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
	"github.com/sourcegraph/conc"
)

var (
	//ErrNoDeviceSelected is returned when a widget is created without a device
	ErrNoDeviceSelected = errors.New("no device selected")
	//ErrUnknownWidget is returned when a widget id is not on the board
	ErrUnknownWidget = errors.New("unknown widget")
	//ErrUnknownDevice is returned when a device id is not on the board
	ErrUnknownDevice = errors.New("unknown device")
	//ErrBoardClosed is returned by operations on a board that has been closed
	ErrBoardClosed = errors.New("board closed")
)

//Backend is the part of the platform API a board needs
type Backend interface {
	ListDevices(ctx context.Context, orgID, name string) ([]domain.Device, error)
	CreateDevice(ctx context.Context, orgID, name string) (*domain.Device, error)
	RenameDevice(ctx context.Context, orgID, deviceID, name string) error
	DeleteDevice(ctx context.Context, orgID, deviceID string) error
	ListWidgets(ctx context.Context, orgID, deviceID string) ([]domain.Widget, error)
	SaveWidget(ctx context.Context, orgID string, in domain.WidgetInput) (*domain.Widget, error)
	DeleteWidget(ctx context.Context, orgID, deviceID, widgetID string) error
	Report(ctx context.Context, orgID, deviceID string, q domain.ReportQuery) ([]domain.ReportPoint, error)
}

//Subscriptions is the live feed bookkeeping a board drives
type Subscriptions interface {
	Subscribe(topics ...domain.Topic) error
	Retain(topics []domain.Topic) error
	Forget(topic domain.Topic)
}

//Listener is called with every widget that received a live value
type Listener func(domain.Widget)

//Board is the dashboard of one organization: its devices, their widgets and the latest
//live value of each widget
type Board struct {
	orgID   string
	backend Backend
	subs    Subscriptions
	alerts  alerts.Alerter
	log     logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	devices   []domain.Device
	widgets   []domain.Widget
	loads     int
	listeners map[int]Listener

	// edits made while a Load is in flight, replayed on top of its result
	devicesAddedDuringLoad []domain.Device
	addedDuringLoad        []domain.Widget
	removedDuringLoad      map[string]struct{}

	nextID    int
}

//NewBoard creates an empty board for orgID. Call Load to populate it.
func NewBoard(orgID string, b Backend, subs Subscriptions, alerter alerts.Alerter, log logging.Logger) *Board {
	ctx, cancel := context.WithCancel(context.Background())

	return &Board{
		orgID:     orgID,
		backend:   b,
		subs:      subs,
		alerts:    alerter,
		log:       log.WithField("org", orgID),
		ctx:       ctx,
		cancel:    cancel,
		devices:   []domain.Device{},
		widgets:   []domain.Widget{},
		listeners: map[int]Listener{},

		removedDuringLoad: map[string]struct{}{},
	}
}

//OrganizationID returns the organization this board shows
func (b *Board) OrganizationID() string {
	return b.orgID
}

//Context is cancelled when the board is closed
func (b *Board) Context() context.Context {
	return b.ctx
}

//Close cancels every request the board has in flight. A closed board cannot be reused.
func (b *Board) Close() {
	b.cancel()
}

//scope returns a context that is done when either ctx or the board is
func (b *Board) scope(ctx context.Context) (context.Context, func(), error) {
	if b.ctx.Err() != nil {
		return nil, nil, ErrBoardClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)

	return ctx, func() { stop(); cancel() }, nil
}

//Loading reports whether a Load is still waiting for any of its requests
func (b *Board) Loading() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loads > 0
}

//Load fetches the device list and then the widgets of every device in parallel. A failed
//device list leaves the board empty. A failed device only loses its own widgets.
func (b *Board) Load(ctx context.Context) error {
	ctx, done, err := b.scope(ctx)
	if err != nil {
		return err
	}
	defer done()

	b.mu.Lock()
	b.loads++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.loads--
		b.mu.Unlock()
	}()

	devices, err := b.backend.ListDevices(ctx, b.orgID, "")
	if err != nil {
		b.log.Errorf("failed to list devices: %s", err)
		b.alerts.Show("Devices", backend.UserMessage(err, "Fetching the device list failed."))
		b.replace([]domain.Device{}, []domain.Widget{})
		return err
	}

	perDevice := make([][]domain.Widget, len(devices))

	var wg conc.WaitGroup
	for i, device := range devices {
		i, device := i, device
		wg.Go(func() {
			widgets, err := b.backend.ListWidgets(ctx, b.orgID, device.ID)
			if err != nil {
				b.log.Errorf("failed to list widgets of device %s: %s", device.ID, err)
				b.alerts.Show("Widgets", backend.UserMessage(err, "Fetching the widget list failed."))
				return
			}

			for j := range widgets {
				widgets[j].DeviceID = device.ID
				widgets[j].DeviceName = device.Name
			}
			perDevice[i] = widgets
		})
	}
	wg.Wait()

	widgets := []domain.Widget{}
	for _, w := range perDevice {
		widgets = append(widgets, w...)
	}

	b.replace(devices, widgets)
	b.log.Infof("loaded %d widgets from %d devices", len(widgets), len(devices))

	return nil
}

func (b *Board) replace(devices []domain.Device, widgets []domain.Widget) {
	b.mu.Lock()
	b.devices, b.widgets = b.replayEdits(devices, widgets)
	topics := uniqueTopics(b.widgets)
	b.mu.Unlock()

	if err := b.subs.Retain(topics); err != nil {
		b.log.Warnf("failed to subscribe after load: %s", err)
	}
}

//Apply merges a live value into every widget bound to its device and pin and returns how
//many widgets were updated
func (b *Board) Apply(v domain.LiveValue) int {
	b.mu.Lock()
	updated := []domain.Widget{}
	for i, w := range b.widgets {
		if w.Matches(v) {
			b.widgets[i] = w.WithLiveValue(v)
			updated = append(updated, b.widgets[i])
		}
	}
	listeners := b.currentListeners()
	b.mu.Unlock()

	for _, w := range updated {
		for _, l := range listeners {
			l(w)
		}
	}

	return len(updated)
}

//CreateWidget stores a new widget on the device in.DeviceID and adds it to the board
func (b *Board) CreateWidget(ctx context.Context, in domain.WidgetInput) (*domain.Widget, error) {
	if in.DeviceID == "" {
		b.alerts.Show("New widget", "Select a device first.")
		return nil, ErrNoDeviceSelected
	}

	ctx, done, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	in.ID = ""
	saved, err := b.backend.SaveWidget(ctx, b.orgID, in)
	if err != nil {
		b.log.Errorf("failed to create widget on device %s: %s", in.DeviceID, err)
		b.alerts.Show("New widget", backend.UserMessage(err, "Creating the widget failed."))
		return nil, err
	}

	b.alerts.Show("New widget", "Widget created.")

	if saved == nil {
		return nil, b.Load(ctx)
	}

	w := *saved
	w.DeviceID = in.DeviceID
	if d, ok := b.device(in.DeviceID); ok {
		w.DeviceName = d.Name
	}

	b.mu.Lock()
	b.widgets = append(b.widgets, w)
	if b.loads > 0 {
		b.addedDuringLoad = append(b.addedDuringLoad, w)
	}
	b.mu.Unlock()

	if err := b.subs.Subscribe(w.Topic()); err != nil {
		b.log.Warnf("failed to subscribe to %s: %s", w.Topic(), err)
	}

	return &w, nil
}

//UpdateWidget replaces the widget in.ID and merges the edit into the board. The live value is
//kept unless the widget moves to another pin.
func (b *Board) UpdateWidget(ctx context.Context, in domain.WidgetInput) (*domain.Widget, error) {
	current, ok := b.Widget(in.ID)
	if !ok {
		return nil, ErrUnknownWidget
	}
	if in.DeviceID == "" {
		in.DeviceID = current.DeviceID
	}

	ctx, done, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if _, err := b.backend.SaveWidget(ctx, b.orgID, in); err != nil {
		b.log.Errorf("failed to update widget %s: %s", in.ID, err)
		b.alerts.Show("Edit widget", backend.UserMessage(err, "Updating the widget failed."))
		return nil, err
	}

	b.alerts.Show("Edit widget", "Widget updated.")

	b.mu.Lock()
	idx := b.indexOf(in.ID)
	if idx < 0 {
		b.mu.Unlock()
		return nil, ErrUnknownWidget
	}
	old := b.widgets[idx]
	merged := in.ApplyTo(old)
	b.widgets[idx] = merged
	oldTopicInUse := b.topicInUse(old.Topic())
	b.mu.Unlock()

	if merged.Topic() != old.Topic() {
		if !oldTopicInUse {
			b.subs.Forget(old.Topic())
		}
		if err := b.subs.Subscribe(merged.Topic()); err != nil {
			b.log.Warnf("failed to subscribe to %s: %s", merged.Topic(), err)
		}
	}

	return &merged, nil
}

//DeleteWidget removes a widget from the backend and from the board
func (b *Board) DeleteWidget(ctx context.Context, widgetID string) error {
	w, ok := b.Widget(widgetID)
	if !ok {
		return ErrUnknownWidget
	}

	ctx, done, err := b.scope(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := b.backend.DeleteWidget(ctx, b.orgID, w.DeviceID, w.ID); err != nil {
		b.log.Errorf("failed to delete widget %s: %s", w.ID, err)
		b.alerts.Show("Delete widget", backend.UserMessage(err, "Deleting the widget failed."))
		return err
	}

	b.mu.Lock()
	if idx := b.indexOf(widgetID); idx >= 0 {
		b.widgets = append(b.widgets[:idx:idx], b.widgets[idx+1:]...)
	}
	if b.loads > 0 {
		b.removedDuringLoad[widgetID] = struct{}{}
	}
	inUse := b.topicInUse(w.Topic())
	b.mu.Unlock()

	if !inUse {
		b.subs.Forget(w.Topic())
	}

	return nil
}

//CreateDevice registers a new device with the organization and adds it to the board. The
//returned device carries the auth code it publishes with.
func (b *Board) CreateDevice(ctx context.Context, name string) (*domain.Device, error) {
	ctx, done, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	device, err := b.backend.CreateDevice(ctx, b.orgID, name)
	if err != nil {
		b.log.Errorf("failed to create device %q: %s", name, err)
		b.alerts.Show("New device", backend.UserMessage(err, "Creating the device failed."))
		return nil, err
	}

	b.alerts.Show("New device", "Device created.")

	b.mu.Lock()
	b.devices = append(b.devices, *device)
	if b.loads > 0 {
		b.devicesAddedDuringLoad = append(b.devicesAddedDuringLoad, *device)
	}
	b.mu.Unlock()

	return device, nil
}

//RenameDevice changes the name of a device and of the widgets showing it
func (b *Board) RenameDevice(ctx context.Context, deviceID, name string) error {
	if _, ok := b.device(deviceID); !ok {
		return ErrUnknownDevice
	}

	ctx, done, err := b.scope(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := b.backend.RenameDevice(ctx, b.orgID, deviceID, name); err != nil {
		b.log.Errorf("failed to rename device %s: %s", deviceID, err)
		b.alerts.Show("Rename device", backend.UserMessage(err, "Renaming the device failed."))
		return err
	}

	b.mu.Lock()
	for i := range b.devices {
		if b.devices[i].ID == deviceID {
			b.devices[i].Name = name
		}
	}
	for i := range b.widgets {
		if b.widgets[i].DeviceID == deviceID {
			b.widgets[i].DeviceName = name
		}
	}
	b.mu.Unlock()

	return nil
}

//DeleteDevice removes a device from the organization. Its widgets go with it, and so do the
//live topics no remaining widget listens to.
func (b *Board) DeleteDevice(ctx context.Context, deviceID string) error {
	if _, ok := b.device(deviceID); !ok {
		return ErrUnknownDevice
	}

	ctx, done, err := b.scope(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := b.backend.DeleteDevice(ctx, b.orgID, deviceID); err != nil {
		b.log.Errorf("failed to delete device %s: %s", deviceID, err)
		b.alerts.Show("Delete device", backend.UserMessage(err, "Deleting the device failed."))
		return err
	}

	b.mu.Lock()
	devices := make([]domain.Device, 0, len(b.devices))
	for _, d := range b.devices {
		if d.ID != deviceID {
			devices = append(devices, d)
		}
	}
	b.devices = devices

	kept := make([]domain.Widget, 0, len(b.widgets))
	dropped := []domain.Widget{}
	for _, w := range b.widgets {
		if w.DeviceID == deviceID {
			dropped = append(dropped, w)
		} else {
			kept = append(kept, w)
		}
	}
	b.widgets = kept

	if b.loads > 0 {
		b.removedDuringLoad[deviceID] = struct{}{}
		for _, w := range dropped {
			b.removedDuringLoad[w.ID] = struct{}{}
		}
	}

	stale := []domain.Topic{}
	for _, t := range uniqueTopics(dropped) {
		if !b.topicInUse(t) {
			stale = append(stale, t)
		}
	}
	b.mu.Unlock()

	for _, t := range stale {
		b.subs.Forget(t)
	}

	b.alerts.Show("Delete device", "Device deleted.")
	b.log.Infof("deleted device %s and %d widgets", deviceID, len(dropped))

	return nil
}

//Report fetches the stored time series of one pin of a device
func (b *Board) Report(ctx context.Context, deviceID string, q domain.ReportQuery) ([]domain.ReportPoint, error) {
	ctx, done, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	points, err := b.backend.Report(ctx, b.orgID, deviceID, q)
	if err != nil {
		b.log.Errorf("failed to fetch report for %s/%s: %s", deviceID, q.Pin, err)
		b.alerts.Show("Report", backend.UserMessage(err, "Fetching the report failed."))
		return nil, err
	}

	return points, nil
}

//Widgets returns a copy of the widgets on the board
func (b *Board) Widgets() []domain.Widget {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Widget, len(b.widgets))
	copy(out, b.widgets)
	return out
}

//Devices returns a copy of the devices on the board
func (b *Board) Devices() []domain.Device {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.Device, len(b.devices))
	copy(out, b.devices)
	return out
}

//Widget looks up a widget by id
func (b *Board) Widget(id string) (domain.Widget, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if idx := b.indexOf(id); idx >= 0 {
		return b.widgets[idx], true
	}
	return domain.Widget{}, false
}

//Topics returns the distinct live topics the widgets on the board listen to
func (b *Board) Topics() []domain.Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uniqueTopics(b.widgets)
}

//Listen registers l for live updates and returns a function that removes it
func (b *Board) Listen(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *Board) device(id string) (domain.Device, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, d := range b.devices {
		if d.ID == id {
			return d, true
		}
	}
	return domain.Device{}, false
}

// the helpers below expect mu to be held

func (b *Board) indexOf(id string) int {
	for i, w := range b.widgets {
		if w.ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) topicInUse(t domain.Topic) bool {
	for _, w := range b.widgets {
		if w.Topic() == t {
			return true
		}
	}
	return false
}

//replayEdits applies the creates and deletes made while a load was running to its result, so
//the load does not undo them. The journal is cleared by the last load to finish.
func (b *Board) replayEdits(devices []domain.Device, widgets []domain.Widget) ([]domain.Device, []domain.Widget) {
	keptDevices := make([]domain.Device, 0, len(devices))
	known := map[string]struct{}{}
	for _, d := range devices {
		if _, removed := b.removedDuringLoad[d.ID]; !removed {
			keptDevices = append(keptDevices, d)
			known[d.ID] = struct{}{}
		}
	}
	for _, d := range b.devicesAddedDuringLoad {
		_, listed := known[d.ID]
		_, removed := b.removedDuringLoad[d.ID]
		if !listed && !removed {
			keptDevices = append(keptDevices, d)
			known[d.ID] = struct{}{}
		}
	}

	keptWidgets := make([]domain.Widget, 0, len(widgets)+len(b.addedDuringLoad))
	present := map[string]struct{}{}
	for _, w := range widgets {
		if _, removed := b.removedDuringLoad[w.ID]; !removed {
			keptWidgets = append(keptWidgets, w)
			present[w.ID] = struct{}{}
		}
	}

	for _, w := range b.addedDuringLoad {
		_, onBoard := present[w.ID]
		_, removed := b.removedDuringLoad[w.ID]
		_, deviceKnown := known[w.DeviceID]
		if !onBoard && !removed && deviceKnown {
			keptWidgets = append(keptWidgets, w)
		}
	}

	if b.loads <= 1 {
		b.devicesAddedDuringLoad = nil
		b.addedDuringLoad = nil
		b.removedDuringLoad = map[string]struct{}{}
	}

	return keptDevices, keptWidgets
}

func (b *Board) currentListeners() []Listener {
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func uniqueTopics(widgets []domain.Widget) []domain.Topic {
	seen := map[domain.Topic]struct{}{}
	topics := []domain.Topic{}
	for _, w := range widgets {
		if _, ok := seen[w.Topic()]; !ok {
			seen[w.Topic()] = struct{}{}
			topics = append(topics, w.Topic())
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}
