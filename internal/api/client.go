// Package api is the thin request/response client for the collaborator
// endpoints around the upload engine: folder creation and the post-drain
// listing refresh.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"uplift/internal/logging"
)

// ErrFolderExists is returned when the server declines a folder create with
// its conflict status; callers usually treat it as success.
var ErrFolderExists = errors.New("folder already exists")

// Client talks JSON to the server at baseURL.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     logging.Logger
}

// NewClient creates an API client.
func NewClient(baseURL string, httpc *http.Client, log logging.Logger) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpc: httpc, log: log}
}

type createFolderRequest struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// CreateFolder asks the server to create name under uri.
func (c *Client) CreateFolder(ctx context.Context, uri, name string) error {
	body, err := json.Marshal(createFolderRequest{URI: uri, Name: name})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/folders", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrFolderExists
	default:
		return fmt.Errorf("folder create returned status %d", resp.StatusCode)
	}
}

// Listing names the files currently stored under a destination.
type Listing struct {
	Files []string `json:"files"`
}

// RefreshListing fetches the destination's current file list. The queue calls
// this debounced after draining, so a server-side temporary-name-to-final-name
// rename has settled by the time the listing is read.
func (c *Client) RefreshListing(ctx context.Context, destination string) (*Listing, error) {
	u := c.baseURL + "/list?" + url.Values{"path": {destination}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing returned status %d", resp.StatusCode)
	}

	var l Listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}
	return &l, nil
}
