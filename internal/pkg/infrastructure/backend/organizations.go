package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
)

//ListOrganizations returns the organizations the signed-in user belongs to
func (c *Client) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	orgs := []domain.Organization{}
	if err := c.send(ctx, newRequest(http.MethodGet, "/organizations/list"), &orgs); err != nil {
		return nil, err
	}
	if err := validateEach(orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

//ProposeOrganization asks for a new organization to be created. It stays unverified until an admin acts.
func (c *Client) ProposeOrganization(ctx context.Context, name string) (*domain.Organization, error) {
	body := struct {
		Name string `json:"name"`
	}{Name: name}

	org := &domain.Organization{}
	if err := c.send(ctx, newRequest(http.MethodPost, "/organizations/propose").withJSON(body), org); err != nil {
		return nil, err
	}
	return org, nil
}

//OrganizationProfile returns the details of one organization
func (c *Client) OrganizationProfile(ctx context.Context, orgID string) (*domain.Organization, error) {
	org := &domain.Organization{}
	if err := c.send(ctx, newRequest(http.MethodGet, orgPath(orgID, "profile")), org); err != nil {
		return nil, err
	}
	return org, nil
}

//Members returns the member list of an organization
func (c *Client) Members(ctx context.Context, orgID string) ([]domain.Member, error) {
	members := []domain.Member{}
	if err := c.send(ctx, newRequest(http.MethodGet, orgPath(orgID, "member-list")), &members); err != nil {
		return nil, err
	}
	return members, nil
}

//LeaveOrganization removes the signed-in user from an organization
func (c *Client) LeaveOrganization(ctx context.Context, orgID string) error {
	return c.send(ctx, newRequest(http.MethodDelete, orgPath(orgID, "leave")), nil)
}

//RespondToInvitation accepts or declines a membership invitation
func (c *Client) RespondToInvitation(ctx context.Context, orgID string, accept bool) error {
	body := struct {
		IsAccepted bool `json:"is_accepted"`
	}{IsAccepted: accept}
	return c.send(ctx, newRequest(http.MethodPatch, orgPath(orgID, "member-invitation-response")).withJSON(body), nil)
}

//Notifications returns the inbox of the signed-in user
func (c *Client) Notifications(ctx context.Context) ([]domain.Notification, error) {
	notifications := []domain.Notification{}
	if err := c.send(ctx, newRequest(http.MethodGet, "/notifications"), &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

//DeleteNotification removes one notification, or the whole inbox when id is empty
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	path := "/notifications"
	if id != "" {
		path = path + "/" + url.PathEscape(id)
	}
	return c.send(ctx, newRequest(http.MethodDelete, path), nil)
}
