// Package flywheel is a minimal REST client for the imaging platform:
// container lookups, child listings and file downloads. It covers exactly
// the surface the export pipeline needs.
package flywheel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the platform API. All methods perform a single request
// with no retries; transient failures surface to the caller.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the given API host. The key is sent as a
// scitran-user authorization header on every request.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// GetContainer resolves a container of any type by ID.
func (c *Client) GetContainer(ctx context.Context, id string) (*Container, error) {
	var out Container
	if err := c.getJSON(ctx, "/api/containers/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProject fetches a project by ID.
func (c *Client) GetProject(ctx context.Context, id string) (*Container, error) {
	var out Container
	if err := c.getJSON(ctx, "/api/projects/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	out.Type = TypeProject
	return &out, nil
}

// Subjects lists the subjects of a project, in platform order.
func (c *Client) Subjects(ctx context.Context, projectID string) ([]Container, error) {
	return c.children(ctx, "/api/projects/"+url.PathEscape(projectID)+"/subjects", TypeSubject)
}

// Sessions lists the sessions of a subject, in platform order.
func (c *Client) Sessions(ctx context.Context, subjectID string) ([]Container, error) {
	return c.children(ctx, "/api/subjects/"+url.PathEscape(subjectID)+"/sessions", TypeSession)
}

// Acquisitions lists the acquisitions of a session, in platform order.
func (c *Client) Acquisitions(ctx context.Context, sessionID string) ([]Container, error) {
	return c.children(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/acquisitions", TypeAcquisition)
}

// Files returns the file entries attached to an acquisition, including
// their metadata blobs.
func (c *Client) Files(ctx context.Context, acquisitionID string) ([]FileEntry, error) {
	var out Container
	if err := c.getJSON(ctx, "/api/acquisitions/"+url.PathEscape(acquisitionID), &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Download fetches the raw bytes of a file attached to an acquisition.
func (c *Client) Download(ctx context.Context, acquisitionID, filename string) ([]byte, error) {
	path := "/api/acquisitions/" + url.PathEscape(acquisitionID) + "/files/" + url.PathEscape(filename)
	resp, err := c.do(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download %s: %w", filename, err)
	}
	return data, nil
}

func (c *Client) children(ctx context.Context, path, childType string) ([]Container, error) {
	var out []Container
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Type == "" {
			out[i].Type = childType
		}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "scitran-user "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("request %s returned HTTP %d: %s", path, resp.StatusCode, string(body))
	}
	return resp, nil
}
