package client

// http_client.go = talks to the publisher's control API

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"twinbridge/internal/microservices/control-api/dto"
)

// HTTPClient calls /api/v1 on a running publisher-server
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// APIError is a non-2xx answer from the control API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("control api returned %d", e.Status)
	}
	return fmt.Sprintf("control api returned %d: %s", e.Status, e.Message)
}

// constructor for HTTP client
func NewHTTPClient(apiURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// set token for HTTP client
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

func (c *HTTPClient) Status() (*dto.PlaybackResponse, error) {
	var result dto.PlaybackResponse
	if err := c.do(http.MethodGet, "/api/v1/playback", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Start() (*dto.PlaybackResponse, error) {
	var result dto.PlaybackResponse
	if err := c.do(http.MethodPost, "/api/v1/playback/start", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Stop() (*dto.PlaybackResponse, error) {
	var result dto.PlaybackResponse
	if err := c.do(http.MethodPost, "/api/v1/playback/stop", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) SetSpeed(speed float64) (*dto.PlaybackResponse, error) {
	var result dto.PlaybackResponse
	if err := c.do(http.MethodPut, "/api/v1/playback/speed", dto.SetSpeedRequest{Speed: &speed}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) SetLoop(loop bool) (*dto.PlaybackResponse, error) {
	var result dto.PlaybackResponse
	if err := c.do(http.MethodPut, "/api/v1/playback/loop", dto.SetLoopRequest{Loop: &loop}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) FeedChannel(index int, angle float32) (*dto.FeedChannelResponse, error) {
	var result dto.FeedChannelResponse
	path := "/api/v1/channels/" + strconv.Itoa(index)
	if err := c.do(http.MethodPost, path, dto.FeedChannelRequest{Angle: &angle}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do sends body as JSON (when non-nil) and decodes a 2xx answer into out
func (c *HTTPClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // Ensure the response body is closed

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
