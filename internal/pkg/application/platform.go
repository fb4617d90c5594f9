package application

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/backend"
)

func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.platform.Profile(r.Context())
	if err != nil {
		a.writeError(w, err, "Fetching the profile failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, profile)
}

const maxProfileForm = 8 << 20

//updateProfile takes the profile form as multipart/form-data so a picture can ride along
func (a *api) updateProfile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxProfileForm); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "malformed profile form: "+err.Error())
		return
	}

	update := backend.ProfileUpdate{
		Username:    r.FormValue("username"),
		PhoneNumber: r.FormValue("phone_number"),
	}

	if file, header, err := r.FormFile("profile_picture"); err == nil {
		defer file.Close()
		update.Picture = file
		update.PictureName = header.Filename
	}

	profile, err := a.platform.UpdateProfile(r.Context(), update)
	if err != nil {
		a.writeError(w, err, "Updating the profile failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, profile)
}

func (a *api) updateEmail(w http.ResponseWriter, r *http.Request) {
	req := emailRequest{}
	if err := decodeBody(r, &req); err != nil || req.Email == "" {
		a.writeMessage(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := a.platform.UpdateEmail(r.Context(), req.Email); err != nil {
		a.writeError(w, err, "Changing the e-mail address failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (a *api) updatePassword(w http.ResponseWriter, r *http.Request) {
	req := passwordRequest{}
	if err := decodeBody(r, &req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		a.writeMessage(w, http.StatusBadRequest, "old and new password are required")
		return
	}

	if err := a.platform.UpdatePassword(r.Context(), req.OldPassword, req.NewPassword); err != nil {
		a.writeError(w, err, "Changing the password failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := a.platform.ListOrganizations(r.Context())
	if err != nil {
		a.writeError(w, err, "Fetching the organizations failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, orgs)
}

type nameRequest struct {
	Name string `json:"name"`
}

func decodeName(r *http.Request) (string, bool) {
	req := nameRequest{}
	if err := decodeBody(r, &req); err != nil || req.Name == "" {
		return "", false
	}
	return req.Name, true
}

func (a *api) proposeOrganization(w http.ResponseWriter, r *http.Request) {
	name, ok := decodeName(r)
	if !ok {
		a.writeMessage(w, http.StatusBadRequest, "name is required")
		return
	}

	org, err := a.platform.ProposeOrganization(r.Context(), name)
	if err != nil {
		a.writeError(w, err, "Proposing the organization failed.")
		return
	}
	a.writeJSON(w, http.StatusCreated, org)
}

func (a *api) organizationProfile(w http.ResponseWriter, r *http.Request) {
	org, err := a.platform.OrganizationProfile(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		a.writeError(w, err, "Fetching the organization failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, org)
}

func (a *api) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.platform.Members(r.Context(), chi.URLParam(r, "org"))
	if err != nil {
		a.writeError(w, err, "Fetching the member list failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, members)
}

//leaveOrganization also closes the organization's dashboard if it is open
func (a *api) leaveOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "org")
	if err := a.platform.LeaveOrganization(r.Context(), orgID); err != nil {
		a.writeError(w, err, "Leaving the organization failed.")
		return
	}

	a.boards.Unmount(orgID)
	w.WriteHeader(http.StatusNoContent)
}

type invitationResponse struct {
	Accept bool `json:"accept"`
}

func (a *api) respondToInvitation(w http.ResponseWriter, r *http.Request) {
	req := invitationResponse{}
	if err := decodeBody(r, &req); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "malformed invitation response: "+err.Error())
		return
	}

	if err := a.platform.RespondToInvitation(r.Context(), chi.URLParam(r, "org"), req.Accept); err != nil {
		a.writeError(w, err, "Responding to the invitation failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) searchDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.platform.ListDevices(r.Context(), chi.URLParam(r, "org"), r.URL.Query().Get("name"))
	if err != nil {
		a.writeError(w, err, "Fetching the devices failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, devices)
}

func (a *api) listPins(w http.ResponseWriter, r *http.Request) {
	pins, err := a.platform.PinList(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "device"))
	if err != nil {
		a.writeError(w, err, "Fetching the pin list failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, pins)
}

func (a *api) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := a.platform.Notifications(r.Context())
	if err != nil {
		a.writeError(w, err, "Fetching the notifications failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, notifications)
}

//deleteNotification deletes one notification, or all of them when no id is given
func (a *api) deleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := a.platform.DeleteNotification(r.Context(), chi.URLParam(r, "notification")); err != nil {
		a.writeError(w, err, "Deleting the notification failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.platform.ListNotificationEvents(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "device"))
	if err != nil {
		a.writeError(w, err, "Fetching the notification events failed.")
		return
	}
	a.writeJSON(w, http.StatusOK, events)
}

type eventRequest struct {
	Pin            string                `json:"pin"`
	Subject        string                `json:"subject"`
	Message        string                `json:"message"`
	ComparisonType domain.ComparisonType `json:"comparison_type"`
	ThresholdValue domain.Reading        `json:"threshold_value"`
	IsActive       bool                  `json:"is_active"`
}

func (a *api) decodeEvent(w http.ResponseWriter, r *http.Request) (backend.NotificationEventInput, bool) {
	req := eventRequest{}
	if err := decodeBody(r, &req); err != nil {
		a.writeMessage(w, http.StatusBadRequest, "malformed notification event: "+err.Error())
		return backend.NotificationEventInput{}, false
	}

	if req.Pin == "" || !req.ComparisonType.Valid() {
		a.writeMessage(w, http.StatusBadRequest, "a notification event needs a pin and one of = != > < >= <=")
		return backend.NotificationEventInput{}, false
	}

	return backend.NotificationEventInput{
		DeviceID:       chi.URLParam(r, "device"),
		Pin:            req.Pin,
		Subject:        req.Subject,
		Message:        req.Message,
		ComparisonType: req.ComparisonType,
		ThresholdValue: float64(req.ThresholdValue),
		IsActive:       req.IsActive,
	}, true
}

func (a *api) createEvent(w http.ResponseWriter, r *http.Request) {
	in, ok := a.decodeEvent(w, r)
	if !ok {
		return
	}

	event, err := a.platform.CreateNotificationEvent(r.Context(), chi.URLParam(r, "org"), in)
	if err != nil {
		a.writeError(w, err, "Creating the notification event failed.")
		return
	}
	a.writeJSON(w, http.StatusCreated, event)
}

func (a *api) updateEvent(w http.ResponseWriter, r *http.Request) {
	in, ok := a.decodeEvent(w, r)
	if !ok {
		return
	}

	if err := a.platform.UpdateNotificationEvent(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "event"), in); err != nil {
		a.writeError(w, err, "Updating the notification event failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteEvent(w http.ResponseWriter, r *http.Request) {
	err := a.platform.DeleteNotificationEvent(r.Context(), chi.URLParam(r, "org"), chi.URLParam(r, "device"), chi.URLParam(r, "event"))
	if err != nil {
		a.writeError(w, err, "Deleting the notification event failed.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
