package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
)

//Registration is the sign up form
type Registration struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

//ProfileUpdate is the profile form. Picture is optional and sent as a multipart file.
type ProfileUpdate struct {
	Username    string
	PhoneNumber string
	Picture     io.Reader
	PictureName string
}

type credentials struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type loginData struct {
	Token string `json:"token"`
}

type profileData struct {
	User *domain.Profile `json:"user"`
}

//Login exchanges credentials for a bearer token
func (c *Client) Login(ctx context.Context, identity, password string) (string, error) {
	data := loginData{}
	r := newRequest(http.MethodPost, "/auth/login").withJSON(credentials{Identity: identity, Password: password})
	if err := c.send(ctx, r, &data); err != nil {
		return "", err
	}
	if data.Token == "" {
		return "", schemaError(errEmptyData)
	}
	return data.Token, nil
}

//Register creates a new account
func (c *Client) Register(ctx context.Context, reg Registration) error {
	return c.send(ctx, newRequest(http.MethodPost, "/auth/register").withJSON(reg), nil)
}

//ForgotPassword asks the backend to mail a password reset link
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body := struct {
		Email string `json:"email"`
	}{Email: email}
	return c.send(ctx, newRequest(http.MethodPost, "/auth/forgot-password").withJSON(body), nil)
}

func (c *Client) decodeProfile(ctx context.Context, r *request) (*domain.Profile, error) {
	data := profileData{}
	if err := c.send(ctx, r, &data); err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, schemaError(errEmptyData)
	}
	if err := data.User.Validate(); err != nil {
		return nil, schemaError(err)
	}
	return data.User, nil
}

//Profile returns the signed-in user
func (c *Client) Profile(ctx context.Context) (*domain.Profile, error) {
	return c.decodeProfile(ctx, newRequest(http.MethodGet, "/auth/profile"))
}

//UpdateProfile sends the profile form as multipart/form-data and returns the stored profile
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*domain.Profile, error) {
	buf := &bytes.Buffer{}
	form := multipart.NewWriter(buf)

	if err := form.WriteField("username", update.Username); err != nil {
		return nil, err
	}
	if err := form.WriteField("phone_number", update.PhoneNumber); err != nil {
		return nil, err
	}

	if update.Picture != nil {
		name := update.PictureName
		if name == "" {
			name = "profile_picture"
		}
		part, err := form.CreateFormFile("profile_picture", name)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, update.Picture); err != nil {
			return nil, fmt.Errorf("failed to read profile picture: %w", err)
		}
	}

	if err := form.Close(); err != nil {
		return nil, err
	}

	r := newRequest(http.MethodPatch, "/auth/profile")
	r.body = buf
	r.contentType = form.FormDataContentType()

	return c.decodeProfile(ctx, r)
}

//UpdateEmail changes the e-mail address of the signed-in user
func (c *Client) UpdateEmail(ctx context.Context, email string) error {
	body := struct {
		NewEmail string `json:"new_email"`
	}{NewEmail: email}
	return c.send(ctx, newRequest(http.MethodPatch, "/auth/email").withJSON(body), nil)
}

//UpdatePassword changes the password of the signed-in user
func (c *Client) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	body := struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}{OldPassword: oldPassword, NewPassword: newPassword}
	return c.send(ctx, newRequest(http.MethodPatch, "/auth/password").withJSON(body), nil)
}
