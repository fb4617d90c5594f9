package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
)

//TokenSource hands out the bearer token for the signed-in user, or "" when signed out
type TokenSource interface {
	Token() string
}

//Client talks to the platform REST API. All responses use the {"message", "data"} envelope.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     logging.Logger
}

//NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, log logging.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
	}
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type validator interface {
	Validate() error
}

func validateEach[T validator](items []T) error {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return schemaError(fmt.Errorf("item %d: %w", i, err))
		}
	}
	return nil
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

func newRequest(method, path string) *request {
	return &request{method: method, path: path}
}

func (r *request) withQuery(q url.Values) *request {
	r.query = q
	return r
}

func (r *request) withJSON(payload interface{}) *request {
	b, err := json.Marshal(payload)
	if err != nil {
		// payloads are our own structs, failing here is a programming error
		panic(fmt.Sprintf("failed to encode request body: %s", err.Error()))
	}
	r.body = bytes.NewReader(b)
	r.contentType = "application/json"
	return r
}

func (c *Client) endpoint(r *request) string {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u = u + "?" + r.query.Encode()
	}
	return u
}

//send performs the request and decodes the envelope's data into out, if out is not nil
func (c *Client) send(ctx context.Context, r *request, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r), r.body)
	if err != nil {
		return networkError(err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Errorf("%s %s (%s) failed: %s", r.method, r.path, requestID, err.Error())
		return networkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Errorf("%s %s (%s): failed to read response: %s", r.method, r.path, requestID, err.Error())
		return networkError(err)
	}

	env := envelope{}
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warnf("%s %s (%s) responded %d: %s", r.method, r.path, requestID, resp.StatusCode, env.Message)
		return &Error{Kind: KindApplication, Status: resp.StatusCode, Message: env.Message}
	}

	if decodeErr != nil {
		return schemaError(decodeErr)
	}

	if out == nil || len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return schemaError(err)
	}

	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return schemaError(err)
		}
	}

	return nil
}

var errEmptyData = errors.New("response carried no data")

func orgPath(orgID string, elems ...string) string {
	p := "/organizations/" + url.PathEscape(orgID)
	for _, e := range elems {
		p = p + "/" + e
	}
	return p
}

func devicePath(orgID, deviceID string, elems ...string) string {
	return orgPath(orgID, append([]string{"devices", url.PathEscape(deviceID)}, elems...)...)
}
