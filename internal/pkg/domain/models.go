package domain

import (
	"errors"
)

//Device is an organization scoped piece of hardware. AuthCode is the secret it publishes with.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	AuthCode string `json:"auth_code,omitempty"`
}

//Validate checks the device carries an id
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device is missing an id")
	}
	return nil
}

//Organization is a tenant grouping devices, members and widgets
type Organization struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Status              string  `json:"status"`
	Description         *string `json:"description,omitempty"`
	Location            string  `json:"location,omitempty"`
	OrganizationPicture *string `json:"organization_picture,omitempty"`
}

//Validate checks the organization carries an id
func (o Organization) Validate() error {
	if o.ID == "" {
		return errors.New("organization is missing an id")
	}
	return nil
}

//Member is a user's membership in an organization
type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	Status   string `json:"status,omitempty"`
}

//ComparisonType is the operator a notification event compares a pin value with
type ComparisonType string

const (
	Equal          ComparisonType = "="
	NotEqual       ComparisonType = "!="
	Greater        ComparisonType = ">"
	Less           ComparisonType = "<"
	GreaterOrEqual ComparisonType = ">="
	LessOrEqual    ComparisonType = "<="
)

//Valid reports whether c is one of the supported operators
func (c ComparisonType) Valid() bool {
	switch c {
	case Equal, NotEqual, Greater, Less, GreaterOrEqual, LessOrEqual:
		return true
	}
	return false
}

//NotificationEvent is a rule that notifies members when a pin crosses a threshold
type NotificationEvent struct {
	ID             string         `json:"id"`
	Pin            string         `json:"pin"`
	Subject        string         `json:"subject"`
	Message        string         `json:"message"`
	ComparisonType ComparisonType `json:"comparison_type"`
	ThresholdValue Reading        `json:"threshold_value"`
	IsActive       bool           `json:"is_active"`
	DeviceID       string         `json:"device_id"`
	DeviceName     string         `json:"device_name"`
}

//Validate checks the event carries an id and a known operator
func (e NotificationEvent) Validate() error {
	if e.ID == "" {
		return errors.New("notification event is missing an id")
	}
	if !e.ComparisonType.Valid() {
		return errors.New("notification event " + e.ID + " has unknown comparison type " + string(e.ComparisonType))
	}
	return nil
}

//Notification is an entry in the signed-in user's inbox
type Notification struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

//Profile is the signed-in user
type Profile struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Email          string  `json:"email"`
	PhoneNumber    string  `json:"phone_number"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
	Role           string  `json:"role,omitempty"`
}

//Validate checks the profile carries a username
func (p Profile) Validate() error {
	if p.Username == "" {
		return errors.New("profile is missing a username")
	}
	return nil
}
