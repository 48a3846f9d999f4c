package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dispute-assistant/models"

	"go.uber.org/zap"
)

const (
	defaultCallAPIBase = "https://api.twilio.com"
	demoVoiceURL       = "http://demo.twilio.com/docs/voice.xml"
)

// ErrIncompleteCredentials is returned when a call is requested without all four credentials
var ErrIncompleteCredentials = errors.New("call credentials incomplete")

// CallRequest describes one outbound call. Document takes precedence over
// Script; with neither set the API's demo voice URL is played.
type CallRequest struct {
	To       string
	From     string
	Script   string
	Document string
}

// CallReceipt is what the call API reported for an accepted call
type CallReceipt struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// Caller places automated voice calls
type Caller interface {
	PlaceCall(ctx context.Context, creds models.CallCredentials, req CallRequest) (*CallReceipt, error)
}

// TwilioCaller talks to a Twilio-compatible REST API
type TwilioCaller struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// TwilioCallerOption is a functional option for TwilioCaller
type TwilioCallerOption func(*TwilioCaller)

// WithCallAPIBase overrides the API base URL
func WithCallAPIBase(base string) TwilioCallerOption {
	return func(c *TwilioCaller) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithCallTimeout sets the HTTP client timeout
func WithCallTimeout(d time.Duration) TwilioCallerOption {
	return func(c *TwilioCaller) {
		c.client = &http.Client{Timeout: d}
	}
}

// WithCallLogger sets the logger
func WithCallLogger(logger *zap.Logger) TwilioCallerOption {
	return func(c *TwilioCaller) {
		c.logger = logger
	}
}

// NewTwilioCaller creates a new call client
func NewTwilioCaller(opts ...TwilioCallerOption) *TwilioCaller {
	c := &TwilioCaller{
		baseURL: defaultCallAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaceCall creates a call resource. Any non-2xx response is an error.
func (c *TwilioCaller) PlaceCall(ctx context.Context, creds models.CallCredentials, req CallRequest) (*CallReceipt, error) {
	if creds.AccountSID == "" || creds.AuthToken == "" {
		return nil, ErrIncompleteCredentials
	}
	if req.To == "" || req.From == "" {
		return nil, fmt.Errorf("%w: to and from numbers are required", ErrIncompleteCredentials)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	switch {
	case req.Document != "":
		form.Set("Twiml", req.Document)
	case req.Script != "":
		form.Set("Twiml", inlineSay(req.Script))
	default:
		form.Set("Url", demoVoiceURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, url.PathEscape(creds.AccountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(creds.AccountSID, creds.AuthToken)

	c.logger.Info("placing call", zap.String("to", req.To), zap.String("from", req.From))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(bodyBytes, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("call API error: %d - %s (code: %d)", resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		return nil, fmt.Errorf("call API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var receipt CallReceipt
	if err := json.Unmarshal(bodyBytes, &receipt); err != nil {
		c.logger.Warn("call accepted with unreadable body", zap.Error(err))
	}
	c.logger.Info("call initiated", zap.String("sid", receipt.SID), zap.String("status", receipt.Status))
	return &receipt, nil
}
