package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nstogner/forge/pkg/action"
	"github.com/nstogner/forge/pkg/agent"
	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/eventbus"
	"github.com/nstogner/forge/pkg/model/mock"
	"github.com/nstogner/forge/pkg/sandbox"
	"github.com/nstogner/forge/pkg/sandbox/sandboxtest"
	"github.com/nstogner/forge/pkg/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	url     string
	store   *sqlite.Store
	sandbox *sandboxtest.Manager
}

func newTestEnv(t *testing.T, outer, inner *mock.Provider, sb sandbox.Manager) *testEnv {
	t.Helper()
	st, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	fake := sandboxtest.New()
	if sb == nil {
		sb = fake
	}

	bus := eventbus.New()
	ag := agent.New(agent.Config{Model: "mock-model"}, outer, agent.NewThinker(inner, bus, "mock-model", 0), bus)
	srv := httptest.NewServer(New(st, st, ag, outer, sb, nil).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{url: srv.URL, store: st, sandbox: fake}
}

func (e *testEnv) createProject(t *testing.T, name string) domain.Project {
	t.Helper()
	resp, err := http.Post(e.url+"/api/projects", "application/json", strings.NewReader(fmt.Sprintf(`{"name":%q}`, name)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var p domain.Project
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func (e *testEnv) messages(t *testing.T, projectID string) []messageView {
	t.Helper()
	resp, err := http.Get(e.url + "/api/projects/" + projectID + "/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []messageView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	return views
}

func (e *testEnv) send(t *testing.T, projectID, content string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(ChatRequest{Content: content})
	resp, err := http.Post(e.url+"/api/projects/"+projectID+"/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestProjectCRUD(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	p := env.createProject(t, "Blog")
	assert.NotEmpty(t, p.ID)

	resp, err := http.Get(env.url + "/api/projects")
	require.NoError(t, err)
	var list []domain.Project
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, "Blog", list[0].Name)

	resp, err = http.Get(env.url + "/api/projects/" + p.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, env.url+"/api/projects/"+p.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(env.url + "/api/projects/" + p.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateProjectRequiresName(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	resp, err := http.Post(env.url+"/api/projects", "application/json", strings.NewReader(`{"name":" "}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage(t *testing.T) {
	outer := mock.New(mock.Response{Chunks: []string{
		"Checking the install.\n\n",
		`<Action type="shell">`,
		"php artisan about</Action>",
	}})
	env := newTestEnv(t, outer, mock.New(), nil)
	p := env.createProject(t, "Blog")

	resp := env.send(t, p.ID, "is laravel installed?")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Exchange-ID"))
	assert.Equal(t, "Checking the install.\n\n<Action type=\"shell\">php artisan about</Action>", string(body))
	assert.NotEmpty(t, resp.Trailer.Get("X-Message-ID"))
	assert.Empty(t, resp.Trailer.Get("X-Error"))

	msgs := env.messages(t, p.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "is laravel installed?", msgs[0].Content)
	assert.Empty(t, msgs[0].Segments)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Segments, 2)
	assert.Equal(t, action.KindMarkdown, msgs[1].Segments[0].Kind)
	assert.Equal(t, action.KindShell, msgs[1].Segments[1].Kind)
	assert.Equal(t, "php artisan about", msgs[1].Segments[1].Content)

	// The project's tools and the prior conversation reach the provider.
	reqs := outer.Requests()
	require.Len(t, reqs, 1)
	var names []string
	for _, ts := range reqs[0].Tools {
		names = append(names, ts.Name)
	}
	assert.Equal(t, []string{agent.ThinkToolName, sandbox.ToolNameProjectStructure, sandbox.ToolNameRunShell}, names)
	assert.Contains(t, reqs[0].Instructions, p.ID)
}

func TestSendMessageUsesHistory(t *testing.T) {
	outer := mock.New(mock.Text("first answer"), mock.Text("second answer"))
	env := newTestEnv(t, outer, mock.New(), nil)
	p := env.createProject(t, "Blog")

	for _, m := range []string{"one", "two"} {
		resp := env.send(t, p.ID, m)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	reqs := outer.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text())
	assert.Equal(t, "first answer", msgs[1].Text())
	assert.Equal(t, "two", msgs[2].Text())
}

func TestSendEmptyMessage(t *testing.T) {
	outer := mock.New()
	env := newTestEnv(t, outer, mock.New(), nil)
	p := env.createProject(t, "Blog")

	resp := env.send(t, p.ID, "   ")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, env.messages(t, p.ID))
	assert.Empty(t, outer.Requests())
}

func TestSendMessageProviderError(t *testing.T) {
	outer := mock.New(mock.Response{Err: fmt.Errorf("quota exceeded for key abc")})
	env := newTestEnv(t, outer, mock.New(), nil)
	p := env.createProject(t, "Blog")

	resp := env.send(t, p.ID, "hello")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	assert.Equal(t, agent.ErrGenerationFailed.Error(), resp.Trailer.Get("X-Error"))
	msgs := env.messages(t, p.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
}

func TestSendMessageUnknownProject(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	resp := env.send(t, "nope", "hello")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplyMessage(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	p := env.createProject(t, "Blog")
	env.sandbox.Create(context.Background(), p.ID)

	ctx := context.Background()
	answer := &domain.StoredMessage{
		ProjectID: p.ID,
		Role:      domain.RoleAssistant,
		Content:   "Here you go.\n\n<Action type=\"file\" path=\"resources/views/home.blade.php\">\n<h1>Home</h1>\n</Action>",
	}
	require.NoError(t, env.store.AppendMessage(ctx, answer))

	resp, err := http.Post(env.url+"/api/projects/"+p.ID+"/messages/"+answer.ID+"/apply", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Outcomes []sandbox.Outcome `json:"outcomes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Outcomes, 1)
	assert.Empty(t, out.Outcomes[0].Error)

	content, ok := env.sandbox.File(p.ID, "resources/views/home.blade.php")
	require.True(t, ok)
	assert.Equal(t, "<h1>Home</h1>\n", content)
}

func TestApplyUserMessage(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	p := env.createProject(t, "Blog")

	question := &domain.StoredMessage{ProjectID: p.ID, Role: domain.RoleUser, Content: "hi"}
	require.NoError(t, env.store.AppendMessage(context.Background(), question))

	resp, err := http.Post(env.url+"/api/projects/"+p.ID+"/messages/"+question.ID+"/apply", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(env.url+"/api/projects/"+p.ID+"/messages/missing/apply", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	resp, err := http.Get(env.url + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var models []domain.Model
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&models))
	require.Len(t, models, 1)
	assert.Equal(t, "mock-model", models[0].ID)
}

// portSandbox publishes every project on a fixed port.
type portSandbox struct {
	*sandboxtest.Manager
	port string
}

func (p *portSandbox) HostPort(ctx context.Context, projectID string) (string, error) {
	return p.port, nil
}

func TestProxy(t *testing.T) {
	app := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "path=%s query=%s", r.URL.Path, r.URL.RawQuery)
	}))
	defer app.Close()
	u, err := url.Parse(app.URL)
	require.NoError(t, err)

	env := newTestEnv(t, mock.New(), mock.New(), &portSandbox{Manager: sandboxtest.New(), port: u.Port()})

	resp, err := http.Get(env.url + "/api/proxy/p1/users/1?tab=posts")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "path=/users/1 query=tab=posts", string(body))
}

func TestProxyNotRunning(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	resp, err := http.Get(env.url + "/api/proxy/nope/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func dialChat(t *testing.T, env *testEnv, projectID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.url, "http") + "/api/projects/" + projectID + "/chat"
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil collects frames until a done or error frame.
func readUntil(t *testing.T, ws *websocket.Conn) []Frame {
	t.Helper()
	var frames []Frame
	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var f Frame
		require.NoError(t, ws.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type == FrameDone || f.Type == FrameError {
			return frames
		}
	}
}

func TestChatWebSocket(t *testing.T) {
	outer := mock.New(
		mock.Call("c1", agent.ThinkToolName, map[string]any{"message": "plan the page"}),
		mock.Response{Chunks: []string{"On it.\n\n<Action type=\"file\" path=\"a.txt\">", "hello</Action>"}},
	)
	inner := mock.New(mock.Response{Chunks: []string{"I should ", "write a file."}})
	env := newTestEnv(t, outer, inner, nil)
	p := env.createProject(t, "Blog")

	ws := dialChat(t, env, p.ID)
	require.NoError(t, ws.WriteJSON(ChatRequest{Content: "make a page"}))
	frames := readUntil(t, ws)

	var thinking, text strings.Builder
	var partial [][]action.Segment
	for _, f := range frames {
		switch f.Type {
		case FrameThinking:
			thinking.WriteString(f.Content)
		case FrameText:
			text.WriteString(f.Content)
		case FrameSegments:
			partial = append(partial, f.Segments)
		}
	}
	assert.Equal(t, "I should write a file.", thinking.String())
	assert.Equal(t, "On it.\n\n<Action type=\"file\" path=\"a.txt\">hello</Action>", text.String())

	// The open block is withheld until it closes.
	require.Len(t, partial, 2)
	require.Len(t, partial[0], 1)
	assert.Equal(t, action.KindMarkdown, partial[0][0].Kind)
	require.Len(t, partial[1], 2)

	last := frames[len(frames)-1]
	require.Equal(t, FrameDone, last.Type, "error: %s", last.Error)
	require.NotNil(t, last.Message)
	require.Len(t, last.Segments, 2)
	assert.Equal(t, action.KindFile, last.Segments[1].Kind)
	assert.Equal(t, "a.txt", last.Segments[1].Path)
	require.Len(t, last.Message.Steps, 1)
	assert.Equal(t, "I should write a file.", last.Message.Steps[0].Invocations[0].Result.Content)

	msgs := env.messages(t, p.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, last.Message.ID, msgs[1].ID)
}

func TestChatWebSocketEmptyMessage(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	p := env.createProject(t, "Blog")

	ws := dialChat(t, env, p.ID)
	require.NoError(t, ws.WriteJSON(ChatRequest{Content: ""}))
	frames := readUntil(t, ws)
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, agent.ErrEmptyMessage.Error(), frames[0].Error)
}

func TestChatWebSocketUnknownProject(t *testing.T) {
	env := newTestEnv(t, mock.New(), mock.New(), nil)
	wsURL := "ws" + strings.TrimPrefix(env.url, "http") + "/api/projects/nope/chat"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
