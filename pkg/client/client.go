// Package client talks to a forge server over its HTTP and websocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/nstogner/forge/pkg/action"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/server"
)

// Message is a stored message as served by the API.
type Message struct {
	domain.StoredMessage
	Segments []action.Segment `json:"segments,omitempty"`
}

// Project is a project with its sandbox state.
type Project struct {
	domain.Project
	Status     string `json:"status"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client is a forge API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: http.DefaultClient}
}

// ListProjects returns every project.
func (c *Client) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	return out, c.do(ctx, http.MethodGet, "/api/projects", nil, &out)
}

// GetProject returns a project with its sandbox state.
func (c *Client) GetProject(ctx context.Context, id string) (*Project, error) {
	var out Project
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateProject creates a project and starts its sandbox.
func (c *Client) CreateProject(ctx context.Context, name, description string) (*domain.Project, error) {
	var out domain.Project
	in := domain.Project{Name: name, Description: description}
	if err := c.do(ctx, http.MethodPost, "/api/projects", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteProject removes a project and its sandbox.
func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/projects/"+id, nil, nil)
}

// Messages returns a project's conversation, oldest first.
func (c *Client) Messages(ctx context.Context, projectID string) ([]Message, error) {
	var out []Message
	return out, c.do(ctx, http.MethodGet, "/api/projects/"+projectID+"/messages", nil, &out)
}

// Apply runs the actions of an assistant message in the project's sandbox.
func (c *Client) Apply(ctx context.Context, projectID, messageID string) ([]sandbox.Outcome, error) {
	var out struct {
		Outcomes []sandbox.Outcome `json:"outcomes"`
	}
	path := fmt.Sprintf("/api/projects/%s/messages/%s/apply", projectID, messageID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Outcomes, nil
}

// Models returns the models offered by the server's provider.
func (c *Client) Models(ctx context.Context) ([]domain.Model, error) {
	var out []domain.Model
	return out, c.do(ctx, http.MethodGet, "/api/models", nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Chat is an open chat websocket for one project.
type Chat struct {
	ws *websocket.Conn
}

// Chat opens the project's chat websocket.
func (c *Client) Chat(ctx context.Context, projectID string) (*Chat, error) {
	u, err := url.Parse(c.baseURL + "/api/projects/" + projectID + "/chat")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("dialing chat: %w", err)
	}
	return &Chat{ws: ws}, nil
}

// Send starts an exchange with the given message.
func (c *Chat) Send(content string) error {
	return c.ws.WriteJSON(server.ChatRequest{Content: content})
}

// Next blocks for the next frame from the server.
func (c *Chat) Next() (server.Frame, error) {
	var f server.Frame
	err := c.ws.ReadJSON(&f)
	return f, err
}

// Close closes the websocket.
func (c *Chat) Close() error {
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
