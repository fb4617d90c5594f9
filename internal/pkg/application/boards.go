package application

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/dashboard"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/reports"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
)

type boardResponse struct {
	Organization string          `json:"organization"`
	Loading      bool            `json:"loading"`
	Devices      []domain.Device `json:"devices"`
	Widgets      []domain.Widget `json:"widgets"`
	Topics       []domain.Topic  `json:"topics"`
}

func newBoardResponse(b *dashboard.Board) boardResponse {
	return boardResponse{
		Organization: b.OrganizationID(),
		Loading:      b.Loading(),
		Devices:      b.Devices(),
		Widgets:      b.Widgets(),
		Topics:       b.Topics(),
	}
}

//board mounts the board named by the {org} url parameter
func (a *api) board(w http.ResponseWriter, r *http.Request) (*dashboard.Board, bool) {
	b, err := a.boards.Mount(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		a.writeError(w, err, "Opening the dashboard failed.")
		return nil, false
	}
	return b, true
}

func (a *api) mountBoard(w http.ResponseWriter, r *http.Request) {
	if b, ok := a.board(w, r); ok {
		a.writeJSON(w, http.StatusOK, newBoardResponse(b))
	}
}

func (a *api) unmountBoard(w http.ResponseWriter, r *http.Request) {
	if !a.boards.Unmount(chi.URLParam(r, "org")) {
		a.writeMessage(w, http.StatusNotFound, "dashboard is not open")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) reloadBoard(w http.ResponseWriter, r *http.Request) {
	b, ok := a.board(w, r)
	if !ok {
		return
	}

	if err := b.Load(r.Context()); err != nil {
		a.writeError(w, err, "Fetching the device list failed.")
		return
	}

	a.writeJSON(w, http.StatusOK, newBoardResponse(b))
}

func (a *api) listWidgets(w http.ResponseWriter, r *http.Request) {
	if b, ok := a.board(w, r); ok {
		a.writeJSON(w, http.StatusOK, b.Widgets())
	}
}

type widgetRequest struct {
	DeviceID     string   `json:"device_id"`
	Name         string   `json:"name"`
	Pin          string   `json:"pin"`
	Unit         string   `json:"unit"`
	MinValue     *float64 `json:"min_value"`
	MaxValue     *float64 `json:"max_value"`
	DefaultValue *float64 `json:"default_value"`
}

func (req widgetRequest) input(id string) domain.WidgetInput {
	return domain.WidgetInput{
		ID:           id,
		DeviceID:     req.DeviceID,
		Name:         req.Name,
		Pin:          req.Pin,
		Unit:         req.Unit,
		MinValue:     req.MinValue,
		MaxValue:     req.MaxValue,
		DefaultValue: req.DefaultValue,
	}
}

func (a *api) createWidget(w http.ResponseWriter, r *http.Request) {
	req := widgetRequest{}
	if err := decodeBody(r, &req); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "malformed widget: "+err.Error())
		return
	}

	if req.DeviceID == "" {
		// refused before mounting, which would fetch the board
		err := dashboard.ErrNoDeviceSelected
		if b, ok := a.boards.Board(chi.URLParam(r, "org")); ok {
			_, err = b.CreateWidget(r.Context(), req.input(""))
		}
		a.writeError(w, err, "Creating the widget failed.")
		return
	}

	b, ok := a.board(w, r)
	if !ok {
		return
	}

	created, err := b.CreateWidget(r.Context(), req.input(""))
	if err != nil {
		a.writeError(w, err, "Creating the widget failed.")
		return
	}

	if created == nil {
		// the backend did not echo the widget and the board was reloaded instead
		a.writeJSON(w, http.StatusCreated, newBoardResponse(b))
		return
	}

	a.writeJSON(w, http.StatusCreated, created)
}

func (a *api) updateWidget(w http.ResponseWriter, r *http.Request) {
	req := widgetRequest{}
	if err := decodeBody(r, &req); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "malformed widget: "+err.Error())
		return
	}

	b, ok := a.board(w, r)
	if !ok {
		return
	}

	updated, err := b.UpdateWidget(r.Context(), req.input(chi.URLParam(r, "widget")))
	if err != nil {
		a.writeError(w, err, "Updating the widget failed.")
		return
	}

	a.writeJSON(w, http.StatusOK, updated)
}

func (a *api) deleteWidget(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		a.writeMessage(w, http.StatusBadRequest, "deleting a widget must be confirmed with confirm=true")
		return
	}

	b, ok := a.board(w, r)
	if !ok {
		return
	}

	if err := b.DeleteWidget(r.Context(), chi.URLParam(r, "widget")); err != nil {
		a.writeError(w, err, "Deleting the widget failed.")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *api) createDevice(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeName(r)
	if !ok {
		a.writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	b, ok := a.board(w, r)
	if !ok {
		return
	}

	device, err := b.CreateDevice(r.Context(), name)
	if err != nil {
		a.writeError(w, err, "Creating the device failed.")
		return
	}
	a.writeJSON(w, http.StatusCreated, device)
}

func (a *api) renameDevice(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeName(r)
	if !ok {
		a.writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	b, ok := a.board(w, r)
	if !ok {
		return
	}

	if err := b.RenameDevice(r.Context(), chi.URLParam(r, "device"), name); err != nil {
		a.writeError(w, err, "Renaming the device failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//deleteDevice removes the device and every widget on it
func (a *api) deleteDevice(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		a.writeMessage(w, http.StatusBadRequest, "deleting a device must be confirmed with confirm=true")
		return
	}

	b, ok := a.board(w, r)
	if !ok {
		return
	}

	if err := b.DeleteDevice(r.Context(), chi.URLParam(r, "device")); err != nil {
		a.writeError(w, err, "Deleting the device failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//reportQuery reads pin, start and end from the query string. Without bounds the last hour is used.
func (a *api) reportQuery(r *http.Request) (domain.ReportQuery, error) {
	q := r.URL.Query()

	pin := q.Get("pin")
	if pin == "" {
		return domain.ReportQuery{}, errors.New("pin is required")
	}

	if q.Get("start") == "" && q.Get("end") == "" {
		return domain.LastHour(pin, a.now().UTC()), nil
	}

	query := domain.ReportQuery{Pin: pin}
	for name, target := range map[string]**time.Time{"start": &query.Start, "end": &query.End} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return domain.ReportQuery{}, errors.New(name + " must be an RFC3339 timestamp")
			}
			*target = &t
		}
	}

	if query.Start != nil && query.End != nil && query.End.Before(*query.Start) {
		return domain.ReportQuery{}, errors.New("end must not be before start")
	}

	return query, nil
}

func (a *api) fetchReport(w http.ResponseWriter, r *http.Request) (domain.ReportQuery, []domain.ReportPoint, bool) {
	query, err := a.reportQuery(r)
	if err != nil {
		a.writeMessage(w, http.StatusBadRequest, err.Error())
		return query, nil, false
	}

	b, ok := a.board(w, r)
	if !ok {
		return query, nil, false
	}

	points, err := b.Report(r.Context(), chi.URLParam(r, "device"), query)
	if err != nil {
		a.writeError(w, err, "Fetching the report failed.")
		return query, nil, false
	}

	return query, points, true
}

func (a *api) getReport(w http.ResponseWriter, r *http.Request) {
	if _, points, ok := a.fetchReport(w, r); ok {
		a.writeJSON(w, http.StatusOK, points)
	}
}

func (a *api) getReportChart(w http.ResponseWriter, r *http.Request) {
	query, points, ok := a.fetchReport(w, r)
	if !ok {
		return
	}

	title := r.URL.Query().Get("title")
	if title == "" {
		title = query.Pin
	}

	buf := &bytes.Buffer{}
	if err := reports.RenderPNG(buf, title, r.URL.Query().Get("unit"), points); err != nil {
		a.log.Warnf("failed to render report chart: %s", err.Error())
		a.writeError(w, err, "Drawing the report failed.")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type liveFrame struct {
	Type    string          `json:"type"`
	Widgets []domain.Widget `json:"widgets,omitempty"`
	Widget  *domain.Widget  `json:"widget,omitempty"`
}

const liveFeedBuffer = 64

//liveFeed streams the board to the browser: a snapshot first and then every widget that
//receives a live value
func (a *api) liveFeed(w http.ResponseWriter, r *http.Request) {
	b, ok := a.board(w, r)
	if !ok {
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warnf("live feed upgrade failed: %s", err.Error())
		return
	}
	defer conn.Close()

	updates := make(chan domain.Widget, liveFeedBuffer)
	remove := b.Listen(func(widget domain.Widget) {
		select {
		case updates <- widget:
		default:
			a.log.Warnf("browser live feed of %s is lagging, dropping update of %s", b.OrganizationID(), widget.ID)
		}
	})
	defer remove()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(liveFrame{Type: "snapshot", Widgets: b.Widgets()}); err != nil {
		return
	}

	for {
		select {
		case widget := <-updates:
			if err := conn.WriteJSON(liveFrame{Type: "widget", Widget: &widget}); err != nil {
				return
			}
		case <-b.Context().Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "dashboard closed"))
			return
		case <-gone:
			return
		}
	}
}
