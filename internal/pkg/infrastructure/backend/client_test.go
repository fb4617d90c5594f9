package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newClientForTest(t *testing.T, handler http.HandlerFunc) *Client {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, 5*time.Second, staticToken("secret"), logging.NewDiscardLogger())
}

func TestThatRequestsCarryTheBearerToken(t *testing.T) {
	var auth, path, query string

	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		query = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"id":"d1","name":"Greenhouse"}]}`))
	})

	devices, err := client.ListDevices(context.Background(), "org1", "")
	if err != nil {
		t.Fatalf("ListDevices failed: %s", err.Error())
	}

	if auth != "Bearer secret" {
		t.Errorf("unexpected Authorization header %q", auth)
	}
	if path != "/organizations/org1/devices/search" || query != "name=" {
		t.Errorf("unexpected request %s?%s", path, query)
	}
	if len(devices) != 1 || devices[0].Name != "Greenhouse" {
		t.Errorf("unexpected devices %+v", devices)
	}
}

func TestThatApplicationErrorsCarryTheServerMessage(t *testing.T) {
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"not a member"}`))
	})

	_, err := client.ListWidgets(context.Background(), "org1", "d1")
	if !IsKind(err, KindApplication) {
		t.Fatalf("expected an application error, got %v", err)
	}

	if msg := UserMessage(err, "fallback"); msg != "not a member" {
		t.Errorf("unexpected user message %q", msg)
	}
}

func TestThatApplicationErrorsWithoutMessageUseTheFallback(t *testing.T) {
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.DeleteWidget(context.Background(), "org1", "d1", "w1")
	if msg := UserMessage(err, "Deleting the widget failed."); msg != "Deleting the widget failed." {
		t.Errorf("unexpected user message %q", msg)
	}
}

func TestThatUnreachableBackendIsANetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client := NewClient(url, time.Second, nil, logging.NewDiscardLogger())
	_, err := client.ListDevices(context.Background(), "org1", "")

	if !IsKind(err, KindNetwork) {
		t.Fatalf("expected a network error, got %v", err)
	}
	if UserMessage(err, "fallback") != NetworkFailureMessage {
		t.Error("network failures should use the generic network message")
	}
}

func TestThatCancelledContextIsReportedAsNetworkError(t *testing.T) {
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListDevices(ctx, "org1", "")
	if !IsKind(err, KindNetwork) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected a cancelled network error, got %v", err)
	}
}

func TestThatWidgetsWithoutIDAreRejected(t *testing.T) {
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"name":"nameless","pin":"V1"}]}`))
	})

	_, err := client.ListWidgets(context.Background(), "org1", "d1")
	if !IsKind(err, KindSchema) {
		t.Errorf("expected a schema error, got %v", err)
	}
}

func TestThatSaveWidgetSendsNumbersAsStrings(t *testing.T) {
	var method, path string
	body := map[string]interface{}{}

	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"message":"ok"}`))
	})

	min := 0.5
	saved, err := client.SaveWidget(context.Background(), "org1", domain.WidgetInput{DeviceID: "d1", Name: "Temp", Pin: "V1", MinValue: &min})
	if err != nil {
		t.Fatal(err)
	}

	if saved != nil {
		t.Error("no record was echoed, saved should be nil")
	}
	if method != http.MethodPut || path != "/organizations/org1/devices/d1/widget-boxes/" {
		t.Errorf("unexpected request %s %s", method, path)
	}
	if body["min_value"] != "0.5" || body["max_value"] != "" {
		t.Errorf("unexpected payload %v", body)
	}
	if _, hasID := body["id"]; hasID {
		t.Error("create payload should not carry an id")
	}
}

func TestThatReportSendsTheWindow(t *testing.T) {
	var query string
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`{"data":[{"pin":"V1","value":"1.5","time":"2024-01-01T00:00:00Z"}]}`))
	})

	q := domain.LastHour("V1", time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC))
	points, err := client.Report(context.Background(), "org1", "d1", q)
	if err != nil {
		t.Fatal(err)
	}

	if query != "end=2024-01-01T01%3A00%3A00Z&pin=V1&start=2024-01-01T00%3A00%3A00Z" {
		t.Errorf("unexpected query %s", query)
	}
	if len(points) != 1 || points[0].Value != 1.5 {
		t.Errorf("unexpected points %+v", points)
	}
}

func TestThatLoginReturnsTheToken(t *testing.T) {
	var sent credentials
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&sent)
		w.Write([]byte(`{"data":{"token":"abc.def.ghi"}}`))
	})

	token, err := client.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if token != "abc.def.ghi" || sent.Identity != "alice" {
		t.Errorf("unexpected token %q or credentials %+v", token, sent)
	}
}

func TestThatUpdateProfileSendsMultipart(t *testing.T) {
	var username, picture string

	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		username = r.FormValue("username")
		if f, _, err := r.FormFile("profile_picture"); err == nil {
			b, _ := io.ReadAll(f)
			picture = string(b)
		}
		w.Write([]byte(`{"data":{"user":{"id":"u1","username":"alice","email":"a@example.org"}}}`))
	})

	profile, err := client.UpdateProfile(context.Background(), ProfileUpdate{
		Username:    "alice",
		PhoneNumber: "123",
		Picture:     strings.NewReader("png-bytes"),
		PictureName: "me.png",
	})
	if err != nil {
		t.Fatal(err)
	}

	if username != "alice" || picture != "png-bytes" {
		t.Errorf("unexpected form values %q, %q", username, picture)
	}
	if profile.Email != "a@example.org" {
		t.Errorf("unexpected profile %+v", profile)
	}
}

func TestThatNotificationEventsAreValidated(t *testing.T) {
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"e1","pin":"V1","comparison_type":"~","threshold_value":"3"}]}`))
	})

	_, err := client.ListNotificationEvents(context.Background(), "org1", "d1")
	if !IsKind(err, KindSchema) {
		t.Errorf("expected a schema error for an unknown operator, got %v", err)
	}
}

func TestThatWidgetBoundsSentAsStringsAreAccepted(t *testing.T) {
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"w1","pin":"V1","min_value":"0","max_value":"40.5","default_value":""}]}`))
	})

	widgets, err := client.ListWidgets(context.Background(), "org1", "d1")
	if err != nil {
		t.Fatal(err)
	}

	if len(widgets) != 1 || widgets[0].MinValue == nil || *widgets[0].MinValue != 0 || *widgets[0].MaxValue != 40.5 {
		t.Errorf("unexpected widgets %+v", widgets)
	}
	if widgets[0].DefaultValue != nil {
		t.Error("an empty default should decode as no default")
	}
}

func TestThatAccountAndOrganizationCallsHitTheirEndpoints(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name   string
		method string
		path   string
		call   func(c *Client) error
	}{
		{"register", http.MethodPost, "/auth/register", func(c *Client) error {
			return c.Register(ctx, Registration{Email: "a@example.org", Username: "alice", Password: "pw"})
		}},
		{"forgot password", http.MethodPost, "/auth/forgot-password", func(c *Client) error {
			return c.ForgotPassword(ctx, "a@example.org")
		}},
		{"update email", http.MethodPatch, "/auth/email", func(c *Client) error {
			return c.UpdateEmail(ctx, "b@example.org")
		}},
		{"update password", http.MethodPatch, "/auth/password", func(c *Client) error {
			return c.UpdatePassword(ctx, "old", "new")
		}},
		{"propose organization", http.MethodPost, "/organizations/propose", func(c *Client) error {
			_, err := c.ProposeOrganization(ctx, "Acme")
			return err
		}},
		{"organization profile", http.MethodGet, "/organizations/org1/profile", func(c *Client) error {
			_, err := c.OrganizationProfile(ctx, "org1")
			return err
		}},
		{"members", http.MethodGet, "/organizations/org1/member-list", func(c *Client) error {
			_, err := c.Members(ctx, "org1")
			return err
		}},
		{"leave", http.MethodDelete, "/organizations/org1/leave", func(c *Client) error {
			return c.LeaveOrganization(ctx, "org1")
		}},
		{"rename device", http.MethodPatch, "/organizations/org1/devices/d1", func(c *Client) error {
			return c.RenameDevice(ctx, "org1", "d1", "Garage")
		}},
		{"delete device", http.MethodDelete, "/organizations/org1/devices/d1", func(c *Client) error {
			return c.DeleteDevice(ctx, "org1", "d1")
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var method, path string
			client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
				method, path = r.Method, r.URL.Path
				w.Write([]byte(`{"message":"ok"}`))
			})

			if err := tc.call(client); err != nil {
				t.Fatalf("call failed: %s", err.Error())
			}
			if method != tc.method || path != tc.path {
				t.Errorf("expected %s %s, got %s %s", tc.method, tc.path, method, path)
			}
		})
	}
}

func TestThatCreateDeviceReturnsTheDevice(t *testing.T) {
	var sent deviceNamePayload
	client := newClientForTest(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&sent)
		w.Write([]byte(`{"data":{"id":"d9","name":"Garage","auth_code":"xyz"}}`))
	})

	device, err := client.CreateDevice(context.Background(), "org1", "Garage")
	if err != nil {
		t.Fatal(err)
	}
	if device.ID != "d9" || sent.Name != "Garage" {
		t.Errorf("unexpected device %+v or payload %+v", device, sent)
	}
}
