package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redmage123/course-creator-sub023/pkg/api"
)

// Client is a lab manager API client
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the timeout for the HTTP client
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithToken sets the authentication token
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a new lab manager API client
func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// CreateLab provisions a lab for the given student and course, returning the
// existing lab unchanged if one is already active for that owner
func (c *Client) CreateLab(req *api.CreateLabRequest) (*api.Lab, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest("POST", "/labs/student", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var created api.Lab
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, err
	}

	return &created, nil
}

// GetLab returns a lab by ID
func (c *Client) GetLab(id string) (*api.Lab, error) {
	resp, err := c.doRequest("GET", fmt.Sprintf("/labs/%s", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var found api.Lab
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return nil, err
	}

	return &found, nil
}

// ListLabs returns labs matching the given filters; empty filter values match everything
func (c *Client) ListLabs(studentID, courseID string) ([]*api.Lab, error) {
	q := url.Values{}
	if studentID != "" {
		q.Set("student_id", studentID)
	}
	if courseID != "" {
		q.Set("course_id", courseID)
	}

	path := "/labs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Labs []*api.Lab `json:"labs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	return body.Labs, nil
}

// DeleteLab tears down a lab by ID
func (c *Client) DeleteLab(id string) error {
	resp, err := c.doRequest("DELETE", fmt.Sprintf("/labs/%s", id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// Heartbeat records activity on a lab, deferring the idle reaper
func (c *Client) Heartbeat(id string) error {
	resp, err := c.doRequest("POST", fmt.Sprintf("/labs/%s/heartbeat", id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// ListFiles returns the workspace file listing for a lab
func (c *Client) ListFiles(id string) ([]api.FileInfo, error) {
	resp, err := c.doRequest("GET", fmt.Sprintf("/labs/%s/files", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Files []api.FileInfo `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	return body.Files, nil
}

// DownloadFile fetches a single workspace file. The caller must close the reader.
func (c *Client) DownloadFile(id, path string) (io.ReadCloser, error) {
	resp, err := c.doRequest("GET", fmt.Sprintf("/labs/%s/download/%s", id, path), nil)
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// DownloadWorkspace streams the whole workspace as a zip archive into w
func (c *Client) DownloadWorkspace(id string, w io.Writer) error {
	resp, err := c.doRequest("GET", fmt.Sprintf("/labs/%s/download-workspace", id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(w, resp.Body)
	return err
}

// Health returns the service health summary
func (c *Client) Health() (*api.HealthResponse, error) {
	resp, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}

	return &health, nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return nil, fmt.Errorf("HTTP error: %s", resp.Status)
		}
		return nil, fmt.Errorf("API error: %d - %s", apiErr.Code, apiErr.Message)
	}

	return resp, nil
}
