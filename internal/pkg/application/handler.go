package application

import (
	"compress/flate"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/websocket"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/alerts"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/auth"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/dashboard"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/reports"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/backend"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"

	"github.com/rs/cors"
)

//RequestRouter wraps the concrete router implementation
type RequestRouter struct {
	impl *chi.Mux
}

//ServeHTTP lets the router be used as a http.Handler
func (router *RequestRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	router.impl.ServeHTTP(w, r)
}

//Boards mounts and unmounts organization dashboards
type Boards interface {
	Mount(ctx context.Context, orgID string) (*dashboard.Board, error)
	Board(orgID string) (*dashboard.Board, bool)
	Unmount(orgID string) bool
}

//SessionContext is an interface that allows mocking of the signed-in session
type SessionContext interface {
	Login(ctx context.Context, a auth.Authenticator, identity, password string) error
	Register(ctx context.Context, r auth.Registrar, reg backend.Registration) error
	ForgotPassword(ctx context.Context, r auth.Registrar, email string) error
	SignOut() error
	SignedIn() bool
	Role() string
	Subject() string
}

//AlertCenter is the read side of the alert surface
type AlertCenter interface {
	Current() (alerts.Alert, bool)
	History() []alerts.Alert
	Close()
}

//PlatformAPI is the part of the platform API that is passed through to the browser as is
type PlatformAPI interface {
	auth.Authenticator
	auth.Registrar
	ListOrganizations(ctx context.Context) ([]domain.Organization, error)
	ProposeOrganization(ctx context.Context, name string) (*domain.Organization, error)
	OrganizationProfile(ctx context.Context, orgID string) (*domain.Organization, error)
	Members(ctx context.Context, orgID string) ([]domain.Member, error)
	LeaveOrganization(ctx context.Context, orgID string) error
	ListDevices(ctx context.Context, orgID, name string) ([]domain.Device, error)
	PinList(ctx context.Context, orgID, deviceID string) ([]string, error)
	ListNotificationEvents(ctx context.Context, orgID, deviceID string) ([]domain.NotificationEvent, error)
	CreateNotificationEvent(ctx context.Context, orgID string, in backend.NotificationEventInput) (*domain.NotificationEvent, error)
	UpdateNotificationEvent(ctx context.Context, orgID, eventID string, in backend.NotificationEventInput) error
	DeleteNotificationEvent(ctx context.Context, orgID, deviceID, eventID string) error
	Notifications(ctx context.Context) ([]domain.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	RespondToInvitation(ctx context.Context, orgID string, accept bool) error
	Profile(ctx context.Context) (*domain.Profile, error)
	UpdateProfile(ctx context.Context, update backend.ProfileUpdate) (*domain.Profile, error)
	UpdateEmail(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, oldPassword, newPassword string) error
}

type api struct {
	boards   Boards
	session  SessionContext
	platform PlatformAPI
	alerts   AlertCenter
	log      logging.Logger
	now      func() time.Time
	upgrader websocket.Upgrader
}

func newRequestRouter(corsOrigins []string) *RequestRouter {
	router := &RequestRouter{impl: chi.NewRouter()}

	router.impl.Use(cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	}).Handler)

	router.impl.Use(middleware.RequestID)
	router.impl.Use(middleware.Logger)

	return router
}

func createRequestRouter(a *api, corsOrigins []string) *RequestRouter {
	router := newRequestRouter(corsOrigins)

	// Enable gzip compression for json responses
	compressor := middleware.NewCompressor(flate.DefaultCompression, "application/json")

	router.impl.Group(func(r chi.Router) {
		r.Use(compressor.Handler)

		r.Get("/api/session", a.getSession)
		r.Post("/api/session", a.login)
		r.Delete("/api/session", a.logout)
		r.Post("/api/session/register", a.register)
		r.Post("/api/session/password-reset", a.forgotPassword)

		r.Get("/api/alerts", a.getAlerts)
		r.Delete("/api/alerts", a.closeAlert)
	})

	router.impl.Group(func(r chi.Router) {
		r.Use(a.requireSession)

		r.Group(func(r chi.Router) {
			r.Use(compressor.Handler)

			r.Get("/api/profile", a.getProfile)
			r.Patch("/api/profile", a.updateProfile)
			r.Put("/api/profile/email", a.updateEmail)
			r.Put("/api/profile/password", a.updatePassword)

			r.Get("/api/organizations", a.listOrganizations)
			r.Post("/api/organizations", a.proposeOrganization)
			r.Get("/api/organizations/{org}", a.organizationProfile)
			r.Get("/api/organizations/{org}/members", a.listMembers)
			r.Delete("/api/organizations/{org}/membership", a.leaveOrganization)
			r.Post("/api/organizations/{org}/invitation", a.respondToInvitation)
			r.Get("/api/organizations/{org}/devices", a.searchDevices)
			r.Get("/api/notifications", a.listNotifications)
			r.Delete("/api/notifications", a.deleteNotification)
			r.Delete("/api/notifications/{notification}", a.deleteNotification)
		})

		r.Route("/api/boards/{org}", func(r chi.Router) {
			// websocket upgrades need the raw connection, so no compression here
			r.Get("/live", a.liveFeed)

			r.Group(func(r chi.Router) {
				r.Use(compressor.Handler)

				r.Get("/", a.mountBoard)
				r.Delete("/", a.unmountBoard)
				r.Post("/reload", a.reloadBoard)

				r.Get("/widgets", a.listWidgets)
				r.Post("/widgets", a.createWidget)
				r.Put("/widgets/{widget}", a.updateWidget)
				r.Delete("/widgets/{widget}", a.deleteWidget)

				r.Post("/devices", a.createDevice)
				r.Patch("/devices/{device}", a.renameDevice)
				r.Delete("/devices/{device}", a.deleteDevice)

				r.Get("/devices/{device}/report", a.getReport)
				r.Get("/devices/{device}/report.png", a.getReportChart)
				r.Get("/devices/{device}/pins", a.listPins)

				r.Get("/devices/{device}/notification-events", a.listEvents)
				r.Post("/devices/{device}/notification-events", a.createEvent)
				r.Patch("/devices/{device}/notification-events/{event}", a.updateEvent)
				r.Delete("/devices/{device}/notification-events/{event}", a.deleteEvent)
			})
		})
	})

	return router
}

//NewRouter wires the dashboard API on top of its collaborators
func NewRouter(log logging.Logger, corsOrigins []string, boards Boards, session SessionContext, platform PlatformAPI, alertCenter AlertCenter) *RequestRouter {
	a := &api{
		boards:   boards,
		session:  session,
		platform: platform,
		alerts:   alertCenter,
		log:      log,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	return createRequestRouter(a, corsOrigins)
}

//CreateRouterAndStartServing sets up the dashboard API and serves it until ctx is done
func CreateRouterAndStartServing(ctx context.Context, port string, router *RequestRouter, log logging.Logger) error {
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Infof("Starting iot-dashboard on port %s.", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type envelope struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (a *api) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		a.log.Errorf("failed to encode response: %s", err.Error())
	}
}

func (a *api) writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Message: message})
}

func (a *api) writeError(w http.ResponseWriter, err error, fallback string) {
	var be *backend.Error
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &be) && be.Kind == backend.KindApplication && be.Status >= 400:
		status = be.Status
	case errors.As(err, &be):
		status = http.StatusBadGateway
	case errors.Is(err, dashboard.ErrNoDeviceSelected):
		status = http.StatusBadRequest
		fallback = "Select a device first."
	case errors.Is(err, dashboard.ErrUnknownWidget):
		status = http.StatusNotFound
		fallback = "No such widget on this board."
	case errors.Is(err, dashboard.ErrUnknownDevice):
		status = http.StatusNotFound
		fallback = "No such device on this board."
	case errors.Is(err, auth.ErrIncompleteRegistration):
		status = http.StatusBadRequest
		fallback = auth.ErrIncompleteRegistration.Error()
	case errors.Is(err, auth.ErrSignedIn):
		status = http.StatusConflict
		fallback = "Sign out before creating another account."
	case errors.Is(err, dashboard.ErrBoardClosed):
		status = http.StatusGone
	case errors.Is(err, reports.ErrNotEnoughData):
		status = http.StatusUnprocessableEntity
		fallback = "Not enough data in this period to draw a chart."
	}

	a.writeMessage(w, status, backend.UserMessage(err, fallback))
}

func (a *api) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.session.SignedIn() {
			a.writeMessage(w, http.StatusUnauthorized, auth.ErrSignedOut.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeBody(r *http.Request, into interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(into)
}

type sessionState struct {
	SignedIn bool   `json:"signed_in"`
	Role     string `json:"role,omitempty"`
	Subject  string `json:"subject,omitempty"`
}

func (a *api) currentSession() sessionState {
	return sessionState{SignedIn: a.session.SignedIn(), Role: a.session.Role(), Subject: a.session.Subject()}
}

func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.currentSession())
}

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := decodeBody(r, &req); err != nil || req.Identity == "" || req.Password == "" {
		a.writeMessage(w, http.StatusBadRequest, "identity and password are required")
		return
	}

	if err := a.session.Login(r.Context(), a.platform, req.Identity, req.Password); err != nil {
		a.log.Warnf("login for %s failed: %s", req.Identity, err.Error())
		a.writeError(w, err, "Login failed.")
		return
	}

	a.writeJSON(w, http.StatusOK, a.currentSession())
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	reg := backend.Registration{}
	if err := decodeBody(r, &reg); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "malformed registration: "+err.Error())
		return
	}

	if err := a.session.Register(r.Context(), a.platform, reg); err != nil {
		a.writeError(w, err, "Registration failed.")
		return
	}
	a.writeMessage(w, http.StatusCreated, "Account created, you can now log in.")
}

type emailRequest struct {
	Email string `json:"email"`
}

func (a *api) forgotPassword(w http.ResponseWriter, r *http.Request) {
	req := emailRequest{}
	if err := decodeBody(r, &req); err != nil || req.Email == "" {
		a.writeMessage(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := a.session.ForgotPassword(r.Context(), a.platform, req.Email); err != nil {
		a.writeError(w, err, "Requesting a password reset failed.")
		return
	}
	a.writeMessage(w, http.StatusAccepted, "A reset link is on its way.")
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.session.SignOut(); err != nil {
		a.log.Errorf("failed to sign out: %s", err.Error())
		a.writeError(w, err, "Signing out failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type alertsResponse struct {
	Current *alerts.Alert  `json:"current"`
	History []alerts.Alert `json:"history"`
}

func (a *api) getAlerts(w http.ResponseWriter, r *http.Request) {
	resp := alertsResponse{History: a.alerts.History()}
	if current, ok := a.alerts.Current(); ok {
		resp.Current = &current
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) closeAlert(w http.ResponseWriter, r *http.Request) {
	a.alerts.Close()
	w.WriteHeader(http.StatusNoContent)
}
