// Package api provides a client for the safety backend REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/geo"
)

// Client defines the backend operations. Methods that take a token send it
// as a bearer Authorization header.
type Client interface {
	Login(ctx context.Context, req LoginRequest) (*model.SessionCredentials, error)
	Register(ctx context.Context, req RegisterRequest) (*model.SessionCredentials, error)
	// Refresh exchanges a refresh token for a new token pair.
	Refresh(ctx context.Context, refreshToken string) (*model.SessionCredentials, error)

	SafeZones(ctx context.Context, token string) ([]model.SafeZone, error)
	CheckSafety(ctx context.Context, token string, p geo.Point) (*model.SafetyStatus, error)
	ReportLocation(ctx context.Context, token string, s model.LocationSample) (*LocationResult, error)

	Panic(ctx context.Context, token string, req PanicRequest) (*model.PanicAlert, error)
	PanicAlertsNear(ctx context.Context, token string, p geo.Point, radiusMeters float64) ([]model.PanicAlert, error)

	Contacts(ctx context.Context, token string) ([]model.EmergencyContact, error)
	CreateContact(ctx context.Context, token string, c model.EmergencyContact) (*model.EmergencyContact, error)
	UpdateContact(ctx context.Context, token string, c model.EmergencyContact) (*model.EmergencyContact, error)
	DeleteContact(ctx context.Context, token string, id string) error

	ShareLocation(ctx context.Context, token string, req ShareLocationRequest) error
	EmergencyAlert(ctx context.Context, token string, req EmergencyAlertRequest) error
	TestContact(ctx context.Context, token string, contactID string) error

	Health(ctx context.Context) error
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "http://localhost:4000/api",
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) do(ctx context.Context, op, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return eris.Wrapf(err, "api: %s: marshal request", op)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return eris.Wrapf(err, "api: %s: create request", op)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	if resp.StatusCode >= 400 {
		return &Error{
			Kind:       KindForStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrapf(err, "api: %s: decode response", op)
	}
	return nil
}

// errorMessage pulls a message out of an error body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// decodeList accepts either a bare JSON array or an object holding the array
// under key.
func decodeList[T any](raw json.RawMessage, key string) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var out []T
	if trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &out)
		return out, err
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	if inner, ok := wrapped[key]; ok {
		err := json.Unmarshal(inner, &out)
		return out, err
	}
	return nil, nil
}

func (c *httpClient) Login(ctx context.Context, req LoginRequest) (*model.SessionCredentials, error) {
	if req.Email == "" || req.Password == "" {
		return nil, ValidationError("login", "email and password required")
	}
	var creds model.SessionCredentials
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", "", req, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *httpClient) Register(ctx context.Context, req RegisterRequest) (*model.SessionCredentials, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, ValidationError("register", "name, email and password required")
	}
	var creds model.SessionCredentials
	if err := c.do(ctx, "register", http.MethodPost, "/auth/register", "", req, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (c *httpClient) Refresh(ctx context.Context, refreshToken string) (*model.SessionCredentials, error) {
	if refreshToken == "" {
		return nil, &Error{Kind: KindAuthorization, Op: "refresh", Message: "no refresh token"}
	}
	var creds model.SessionCredentials
	if err := c.do(ctx, "refresh", http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: refreshToken}, &creds); err != nil {
		return nil, err
	}
	if creds.AccessToken == "" {
		return nil, &Error{Kind: KindServer, Op: "refresh", Message: "response carried no token"}
	}
	return &creds, nil
}

func (c *httpClient) SafeZones(ctx context.Context, token string) ([]model.SafeZone, error) {
	var resp safeZonesResponse
	if err := c.do(ctx, "safe zones", http.MethodGet, "/safe-zones", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.SafeZones, nil
}

func (c *httpClient) CheckSafety(ctx context.Context, token string, p geo.Point) (*model.SafetyStatus, error) {
	if !geo.Valid(p) {
		return nil, ValidationError("safety check", "invalid coordinate")
	}
	var status model.SafetyStatus
	if err := c.do(ctx, "safety check", http.MethodPost, "/safe-zones/check", token, checkRequest{Lat: p.Lat, Lng: p.Lng}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *httpClient) ReportLocation(ctx context.Context, token string, s model.LocationSample) (*LocationResult, error) {
	if !geo.Valid(s.Point()) {
		return nil, ValidationError("report location", "invalid coordinate")
	}
	payload := LocationPayload{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Speed:     s.Speed,
		Accuracy:  s.AccuracyMeters,
	}
	var res LocationResult
	if err := c.do(ctx, "report location", http.MethodPost, "/location", token, payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *httpClient) Panic(ctx context.Context, token string, req PanicRequest) (*model.PanicAlert, error) {
	if !geo.Valid(geo.Point{Lat: req.Lat, Lng: req.Lng}) {
		return nil, ValidationError("panic", "invalid coordinate")
	}
	var alert model.PanicAlert
	if err := c.do(ctx, "panic", http.MethodPost, "/panic", token, req, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (c *httpClient) PanicAlertsNear(ctx context.Context, token string, p geo.Point, radiusMeters float64) ([]model.PanicAlert, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", p.Lat))
	q.Set("lng", fmt.Sprintf("%f", p.Lng))
	q.Set("radiusMeters", fmt.Sprintf("%.0f", radiusMeters))

	var raw json.RawMessage
	if err := c.do(ctx, "panic alerts near", http.MethodGet, "/panic-alerts/near?"+q.Encode(), token, nil, &raw); err != nil {
		return nil, err
	}
	alerts, err := decodeList[model.PanicAlert](raw, "alerts")
	if err != nil {
		return nil, eris.Wrap(err, "api: panic alerts near: decode response")
	}
	return alerts, nil
}

func (c *httpClient) Contacts(ctx context.Context, token string) ([]model.EmergencyContact, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "list contacts", http.MethodGet, "/emergency-contacts", token, nil, &raw); err != nil {
		return nil, err
	}
	contacts, err := decodeList[model.EmergencyContact](raw, "contacts")
	if err != nil {
		return nil, eris.Wrap(err, "api: list contacts: decode response")
	}
	return contacts, nil
}

func (c *httpClient) CreateContact(ctx context.Context, token string, ec model.EmergencyContact) (*model.EmergencyContact, error) {
	ec.ID = ""
	var out model.EmergencyContact
	if err := c.do(ctx, "create contact", http.MethodPost, "/emergency-contacts", token, ec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) UpdateContact(ctx context.Context, token string, ec model.EmergencyContact) (*model.EmergencyContact, error) {
	if ec.ID == "" {
		return nil, ValidationError("update contact", "contact id required")
	}
	var out model.EmergencyContact
	if err := c.do(ctx, "update contact", http.MethodPut, "/emergency-contacts/"+url.PathEscape(ec.ID), token, ec, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out = ec
	}
	return &out, nil
}

func (c *httpClient) DeleteContact(ctx context.Context, token string, id string) error {
	if id == "" {
		return ValidationError("delete contact", "contact id required")
	}
	return c.do(ctx, "delete contact", http.MethodDelete, "/emergency-contacts/"+url.PathEscape(id), token, nil, nil)
}

func (c *httpClient) ShareLocation(ctx context.Context, token string, req ShareLocationRequest) error {
	if !geo.Valid(geo.Point{Lat: req.Lat, Lng: req.Lng}) {
		return ValidationError("share location", "invalid coordinate")
	}
	return c.do(ctx, "share location", http.MethodPost, "/user/share-location", token, req, nil)
}

func (c *httpClient) EmergencyAlert(ctx context.Context, token string, req EmergencyAlertRequest) error {
	if len(req.Contacts) == 0 {
		return ValidationError("emergency alert", "no contacts")
	}
	return c.do(ctx, "emergency alert", http.MethodPost, "/user/emergency-alert", token, req, nil)
}

func (c *httpClient) TestContact(ctx context.Context, token string, contactID string) error {
	if contactID == "" {
		return ValidationError("test contact", "contact id required")
	}
	return c.do(ctx, "test contact", http.MethodPost, "/user/test-contact", token, testContactRequest{ContactID: contactID}, nil)
}

func (c *httpClient) Health(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/health", "", nil, nil)
}
