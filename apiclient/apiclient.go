// Package apiclient implements a client for the imageintact control API
// (SPEC_FULL.md's Control API module): GET /status, GET /progress,
// POST /cancel, GET /metrics.
//
// Adapted from the teacher's KopiaAPIClient: same Get/Post/HTTPClient shape,
// swapped from HTTP basic auth to the control API's bearer-token scheme and
// from the versioned "/api/v1/" path prefix to the control API's flat
// routes.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/kopia/imageintact/internal/logging"
)

var log = logging.Module("imageintact/apiclient")

// Client talks to one running session's control API.
type Client struct {
	options Options
}

// Options configures a Client.
type Options struct {
	BaseURL string

	HTTPClient *http.Client

	// BearerToken is attached to every request that requires authorization
	// (currently only POST /cancel).
	BearerToken string

	LogRequests bool
}

// New creates a Client for the control API listening at options.BaseURL
// (e.g. "http://127.0.0.1:51823").
func New(options Options) *Client {
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{}
	}

	return &Client{options}
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.options.HTTPClient
}

// Get sends a GET request and decodes the JSON response into respPayload.
func (c *Client) Get(ctx context.Context, path string, respPayload interface{}) error {
	resp, err := c.getRaw(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := json.NewDecoder(resp.Body).Decode(respPayload); err != nil {
		return errors.Wrap(err, "malformed server response")
	}

	return nil
}

func (c *Client) getRaw(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.options.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}

	if c.options.LogRequests {
		log.Debugf("GET %v", req.URL)
	}

	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		return nil, errors.Errorf("invalid server response: %v", resp.Status)
	}

	return resp, nil
}

// Post sends a POST request with an optional JSON body, attaching the
// bearer token for endpoints that require it (POST /cancel).
func (c *Client) Post(ctx context.Context, path string, reqPayload interface{}) error {
	var body *bytes.Buffer

	if reqPayload != nil {
		body = &bytes.Buffer{}
		if err := json.NewEncoder(body).Encode(reqPayload); err != nil {
			return errors.Wrap(err, "unable to encode request")
		}
	} else {
		body = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.options.BaseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if c.options.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.options.BearerToken)
	}

	if c.options.LogRequests {
		log.Infof("POST %v (%v bytes)", req.URL, body.Len())
	}

	resp, err := c.HTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return errors.Errorf("invalid server response: %v", resp.Status)
	}

	return nil
}
