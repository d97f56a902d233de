// Package mbclient is the black-box HTTP client for the analytics
// platform's administration API. It knows nothing about ID remapping; it
// only knows how to authenticate, retry transient failures, and move
// payloads in and out. Every other package treats it as a typed
// collaborator behind the Client interface.
package mbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Payload is a generic JSON object, the shape every rewriter and exporter
// operates on. The wire format is dynamic and deeply nested by design (see
// the query rewriter's shape catalog), so a typed struct would have to
// re-derive the same dynamic-tree handling the rewriter already does.
type Payload = map[string]any

// ItemFilter narrows a collection-items listing.
type ItemFilter struct {
	Models   []string // e.g. "card", "dataset", "dashboard"
	Archived bool
}

// CollectionItem is one entry in a collection-items listing.
type CollectionItem struct {
	ID    int    `json:"id"`
	Model string `json:"model"`
	Name  string `json:"name"`
}

// Client is the complete black-box contract the migration engine consumes.
// Session management, pagination, and retries are this package's concern
// exclusively; callers never see an HTTP status code.
type Client interface {
	GetCollectionsTree(ctx context.Context, archived bool) ([]Payload, error)
	GetCollectionItems(ctx context.Context, collectionID string, filter ItemFilter) ([]CollectionItem, error)
	GetCard(ctx context.Context, id int) (Payload, error)
	GetDashboard(ctx context.Context, id int) (Payload, error)
	GetDatabases(ctx context.Context) ([]Payload, error)
	GetDatabaseMetadata(ctx context.Context, id int) (Payload, error)

	CreateCard(ctx context.Context, fields Payload) (Payload, error)
	UpdateCard(ctx context.Context, id int, fields Payload) (Payload, error)
	CreateDashboard(ctx context.Context, fields Payload) (Payload, error)
	UpdateDashboard(ctx context.Context, id int, fields Payload) (Payload, error)
	CreateCollection(ctx context.Context, fields Payload) (Payload, error)
	UpdateCollection(ctx context.Context, id int, fields Payload) (Payload, error)

	GetPermissionGroups(ctx context.Context) ([]Payload, error)
	GetPermissionsGraph(ctx context.Context) (Payload, error)
	PutPermissionsGraph(ctx context.Context, graph Payload) error
	GetCollectionPermissionsGraph(ctx context.Context) (Payload, error)
	PutCollectionPermissionsGraph(ctx context.Context, graph Payload) error
}

// Credentials selects exactly one of three session-establishment modes.
type Credentials struct {
	Username       string
	Password       string
	SessionToken   string
	PersonalToken  string
}

func (c Credentials) mode() (string, error) {
	have := 0
	if c.Username != "" && c.Password != "" {
		have++
	}
	if c.SessionToken != "" {
		have++
	}
	if c.PersonalToken != "" {
		have++
	}
	switch {
	case have == 0:
		return "", fmt.Errorf("no credentials supplied: need user+password, a session token, or a personal token")
	case have > 1:
		return "", fmt.Errorf("multiple credential modes supplied: exactly one of user+password, session token, or personal token is required")
	}
	switch {
	case c.PersonalToken != "":
		return "personal", nil
	case c.SessionToken != "":
		return "session", nil
	default:
		return "password", nil
	}
}

// HTTPClient is the concrete Client implementation.
type HTTPClient struct {
	baseURL string
	creds   Credentials
	http    *http.Client

	sessionToken string // established lazily under password mode
}

// NewHTTPClient constructs a client against baseURL, validating that
// exactly one credential mode was supplied.
func NewHTTPClient(baseURL string, creds Credentials) (*HTTPClient, error) {
	if _, err := creds.mode(); err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// ensureSession establishes a session token under password-mode
// credentials, lazily and once.
func (c *HTTPClient) ensureSession(ctx context.Context) error {
	mode, err := c.creds.mode()
	if err != nil {
		return err
	}
	if mode != "password" || c.sessionToken != "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"username": c.creds.Username,
		"password": c.creds.Password,
	})
	if err != nil {
		return fmt.Errorf("marshal session request: %w", err)
	}

	respBody, _, err := c.rawRequest(ctx, "POST", c.baseURL+"/api/session", body, false)
	if err != nil {
		return fmt.Errorf("establish session: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parse session response: %w", err)
	}
	c.sessionToken = result.ID
	return nil
}

// setAuth applies whichever credential mode is active.
func (c *HTTPClient) setAuth(req *http.Request) {
	mode, _ := c.creds.mode()
	switch mode {
	case "personal":
		req.Header.Set("Authorization", "Bearer "+c.creds.PersonalToken)
	case "session":
		req.Header.Set("X-Metabase-Session", c.creds.SessionToken)
	case "password":
		req.Header.Set("X-Metabase-Session", c.sessionToken)
	}
}

// doRequest performs an authenticated request with retries on transient
// failures (5xx and network errors), classifying anything else as
// permanent and returning it immediately without burning retry budget.
func (c *HTTPClient) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	var respBody []byte
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)

	operation := func() error {
		b, status, err := c.rawRequest(ctx, method, apiURL, body, true)
		if err != nil {
			return err
		}
		if status >= 500 {
			return fmt.Errorf("transient server error %d: %s", status, string(b))
		}
		if status < 200 || status >= 300 {
			return backoff.Permanent(fmt.Errorf("api returned %d: %s", status, string(b)))
		}
		respBody = b
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return respBody, nil
}

// rawRequest issues a single HTTP request and returns the body and status
// code without retry or error classification.
func (c *HTTPClient) rawRequest(ctx context.Context, method, apiURL string, body []byte, authed bool) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if authed {
		c.setAuth(req)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mbmigrate/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	apiURL := c.baseURL + path
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}
	return c.doRequest(ctx, "GET", apiURL, nil)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, "POST", c.baseURL+path, data)
}

func (c *HTTPClient) putJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.doRequest(ctx, "PUT", c.baseURL+path, data)
}

func unmarshalPayload(body []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return p, nil
}

// GetCollectionsTree lists the collection forest.
func (c *HTTPClient) GetCollectionsTree(ctx context.Context, archived bool) ([]Payload, error) {
	q := url.Values{"tree": {"true"}}
	if archived {
		q.Set("archived", "true")
	}
	body, err := c.get(ctx, "/api/collection", q)
	if err != nil {
		return nil, fmt.Errorf("get collections tree: %w", err)
	}
	var result []Payload
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse collections tree: %w", err)
	}
	return result, nil
}

// GetCollectionItems lists the items directly under a collection,
// transparently paging until the server reports no more results.
func (c *HTTPClient) GetCollectionItems(ctx context.Context, collectionID string, filter ItemFilter) ([]CollectionItem, error) {
	var all []CollectionItem
	offset := 0
	const pageSize = 100

	for {
		q := url.Values{
			"limit":  {strconv.Itoa(pageSize)},
			"offset": {strconv.Itoa(offset)},
		}
		for _, m := range filter.Models {
			q.Add("models", m)
		}
		if filter.Archived {
			q.Set("archived", "true")
		}

		body, err := c.get(ctx, "/api/collection/"+url.PathEscape(collectionID)+"/items", q)
		if err != nil {
			return nil, fmt.Errorf("get collection items for %s: %w", collectionID, err)
		}

		var page struct {
			Data  []CollectionItem `json:"data"`
			Total int              `json:"total"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parse collection items: %w", err)
		}
		all = append(all, page.Data...)
		offset += len(page.Data)
		if len(page.Data) == 0 || offset >= page.Total {
			break
		}
	}
	return all, nil
}

// GetCard fetches a question's full payload.
func (c *HTTPClient) GetCard(ctx context.Context, id int) (Payload, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/card/%d", id), nil)
	if err != nil {
		return nil, fmt.Errorf("get card %d: %w", id, err)
	}
	return unmarshalPayload(body)
}

// GetDashboard fetches a dashboard's full payload.
func (c *HTTPClient) GetDashboard(ctx context.Context, id int) (Payload, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/dashboard/%d", id), nil)
	if err != nil {
		return nil, fmt.Errorf("get dashboard %d: %w", id, err)
	}
	return unmarshalPayload(body)
}

// GetDatabases lists the source databases.
func (c *HTTPClient) GetDatabases(ctx context.Context) ([]Payload, error) {
	body, err := c.get(ctx, "/api/database", nil)
	if err != nil {
		return nil, fmt.Errorf("get databases: %w", err)
	}
	var result struct {
		Data []Payload `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err == nil && result.Data != nil {
		return result.Data, nil
	}
	// Older server versions return a bare array.
	var bare []Payload
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("parse databases response: %w", err)
	}
	return bare, nil
}

// GetDatabaseMetadata fetches table/field metadata for one database.
func (c *HTTPClient) GetDatabaseMetadata(ctx context.Context, id int) (Payload, error) {
	body, err := c.get(ctx, fmt.Sprintf("/api/database/%d/metadata", id), nil)
	if err != nil {
		return nil, fmt.Errorf("get database metadata %d: %w", id, err)
	}
	return unmarshalPayload(body)
}

// CreateCard creates a new question.
func (c *HTTPClient) CreateCard(ctx context.Context, fields Payload) (Payload, error) {
	body, err := c.postJSON(ctx, "/api/card", fields)
	if err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	return unmarshalPayload(body)
}

// UpdateCard updates an existing question in place.
func (c *HTTPClient) UpdateCard(ctx context.Context, id int, fields Payload) (Payload, error) {
	body, err := c.putJSON(ctx, fmt.Sprintf("/api/card/%d", id), fields)
	if err != nil {
		return nil, fmt.Errorf("update card %d: %w", id, err)
	}
	return unmarshalPayload(body)
}

// CreateDashboard creates a new dashboard shell.
func (c *HTTPClient) CreateDashboard(ctx context.Context, fields Payload) (Payload, error) {
	body, err := c.postJSON(ctx, "/api/dashboard", fields)
	if err != nil {
		return nil, fmt.Errorf("create dashboard: %w", err)
	}
	return unmarshalPayload(body)
}

// UpdateDashboard attaches panels and updates dashboard-level fields in a
// single call, per the install ordering guarantee that panels are attached
// by the update rather than per-panel calls.
func (c *HTTPClient) UpdateDashboard(ctx context.Context, id int, fields Payload) (Payload, error) {
	body, err := c.putJSON(ctx, fmt.Sprintf("/api/dashboard/%d", id), fields)
	if err != nil {
		return nil, fmt.Errorf("update dashboard %d: %w", id, err)
	}
	return unmarshalPayload(body)
}

// CreateCollection creates a new collection.
func (c *HTTPClient) CreateCollection(ctx context.Context, fields Payload) (Payload, error) {
	body, err := c.postJSON(ctx, "/api/collection", fields)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return unmarshalPayload(body)
}

// UpdateCollection updates an existing collection in place.
func (c *HTTPClient) UpdateCollection(ctx context.Context, id int, fields Payload) (Payload, error) {
	body, err := c.putJSON(ctx, fmt.Sprintf("/api/collection/%d", id), fields)
	if err != nil {
		return nil, fmt.Errorf("update collection %d: %w", id, err)
	}
	return unmarshalPayload(body)
}

// GetPermissionGroups lists the permission groups defined on the instance.
func (c *HTTPClient) GetPermissionGroups(ctx context.Context) ([]Payload, error) {
	body, err := c.get(ctx, "/api/permissions/group", nil)
	if err != nil {
		return nil, fmt.Errorf("get permission groups: %w", err)
	}
	var result []Payload
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse permission groups: %w", err)
	}
	return result, nil
}

// GetPermissionsGraph fetches the data-permissions graph verbatim.
func (c *HTTPClient) GetPermissionsGraph(ctx context.Context) (Payload, error) {
	body, err := c.get(ctx, "/api/permissions/graph", nil)
	if err != nil {
		return nil, fmt.Errorf("get permissions graph: %w", err)
	}
	return unmarshalPayload(body)
}

// PutPermissionsGraph submits the data-permissions graph verbatim.
func (c *HTTPClient) PutPermissionsGraph(ctx context.Context, graph Payload) error {
	_, err := c.putJSON(ctx, "/api/permissions/graph", graph)
	if err != nil {
		return fmt.Errorf("put permissions graph: %w", err)
	}
	return nil
}

// GetCollectionPermissionsGraph fetches the collection-permissions graph
// verbatim.
func (c *HTTPClient) GetCollectionPermissionsGraph(ctx context.Context) (Payload, error) {
	body, err := c.get(ctx, "/api/collection/graph", nil)
	if err != nil {
		return nil, fmt.Errorf("get collection permissions graph: %w", err)
	}
	return unmarshalPayload(body)
}

// PutCollectionPermissionsGraph submits the collection-permissions graph
// verbatim.
func (c *HTTPClient) PutCollectionPermissionsGraph(ctx context.Context, graph Payload) error {
	_, err := c.putJSON(ctx, "/api/collection/graph", graph)
	if err != nil {
		return fmt.Errorf("put collection permissions graph: %w", err)
	}
	return nil
}
