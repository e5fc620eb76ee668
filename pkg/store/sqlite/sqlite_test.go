package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tmpFile := t.TempDir() + "/test.db"
	s, err := New(tmpFile)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		os.Remove(tmpFile)
	})
	return s
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &domain.Project{
		ID:          "p-1",
		Name:        "Blog",
		Description: "A blog with comments.",
	}

	// Create
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// Get
	got, err := s.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got.Name != "Blog" || got.Description != "A blog with comments." {
		t.Errorf("got (%q, %q)", got.Name, got.Description)
	}

	// List
	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("ListProjects len = %d, want 1", len(projects))
	}

	// Delete
	if err := s.DeleteProject(ctx, "p-1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	_, err = s.GetProject(ctx, "p-1")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetProject after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteProject(ctx, "p-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteProject twice: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteProjectRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateProject(ctx, &domain.Project{ID: "p-1", Name: "test"})
	s.AppendMessage(ctx, &domain.StoredMessage{ProjectID: "p-1", Role: domain.RoleUser, Content: "hi"})

	if err := s.DeleteProject(ctx, "p-1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	msgs, err := s.ListMessages(ctx, "p-1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("ListMessages len = %d, want 0", len(msgs))
	}
}

func TestMessageAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateProject(ctx, &domain.Project{ID: "p-1", Name: "test"})

	for i := 0; i < 5; i++ {
		msg := &domain.StoredMessage{
			ProjectID: "p-1",
			Role:      domain.RoleUser,
			Content:   "message " + string(rune('A'+i)),
		}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		if msg.ID == "" {
			t.Fatalf("AppendMessage %d: ID not set", i)
		}
	}

	// Get all
	msgs, err := s.ListMessages(ctx, "p-1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("ListMessages len = %d, want 5", len(msgs))
	}
	if msgs[0].Content != "message A" || msgs[4].Content != "message E" {
		t.Errorf("order = %q .. %q", msgs[0].Content, msgs[4].Content)
	}

	// Get with limit
	limited, err := s.ListMessages(ctx, "p-1", 3)
	if err != nil {
		t.Fatalf("ListMessages limit: %v", err)
	}
	if len(limited) != 3 {
		t.Fatalf("ListMessages limited len = %d, want 3", len(limited))
	}
	// Should be the last 3
	if limited[0].Content != msgs[2].Content {
		t.Errorf("first limited message = %q, want %q", limited[0].Content, msgs[2].Content)
	}
}

func TestMessageSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateProject(ctx, &domain.Project{ID: "p-1", Name: "test"})

	msg := &domain.StoredMessage{
		ProjectID: "p-1",
		Role:      domain.RoleAssistant,
		Content:   "done",
		Steps: []domain.Step{{
			Index: 1,
			Invocations: []domain.Invocation{{
				Call:   domain.ToolCall{ID: "c1", Name: "think", Input: map[string]any{"message": "plan"}},
				Result: domain.ToolResult{ToolCallID: "c1", Name: "think", Content: "I will plan."},
			}},
		}},
	}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := s.GetMessage(ctx, "p-1", msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(got.Steps) != 1 || len(got.Steps[0].Invocations) != 1 {
		t.Fatalf("Steps = %+v", got.Steps)
	}
	inv := got.Steps[0].Invocations[0]
	if inv.Call.Input["message"] != "plan" || inv.Result.Content != "I will plan." {
		t.Errorf("invocation = %+v", inv)
	}

	if _, err := s.GetMessage(ctx, "other", msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMessage with wrong project: err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateProject(ctx, &domain.Project{ID: "p-1", Name: "test"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.AppendMessage(ctx, &domain.StoredMessage{
				ProjectID: "p-1",
				Role:      domain.RoleUser,
				Content:   fmt.Sprintf("msg-%d", i),
			}); err != nil {
				t.Errorf("AppendMessage %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := s.ListMessages(ctx, "p-1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 10 {
		t.Errorf("ListMessages len = %d, want 10", len(msgs))
	}
}

func TestListIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty store should return nil/empty.
	ids, err := s.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs on empty store: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ListIDs len = %d, want 0", len(ids))
	}

	s.CreateProject(ctx, &domain.Project{ID: "p-1", Name: "One"})
	s.CreateProject(ctx, &domain.Project{ID: "p-2", Name: "Two"})
	s.CreateProject(ctx, &domain.Project{ID: "p-3", Name: "Three"})

	ids, err = s.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("ListIDs len = %d, want 3", len(ids))
	}

	idSet := map[string]bool{}
	for _, id := range ids {
		idSet[id] = true
	}
	for _, expected := range []string{"p-1", "p-2", "p-3"} {
		if !idSet[expected] {
			t.Errorf("ListIDs missing expected ID %q", expected)
		}
	}
}

func TestHistory(t *testing.T) {
	got := store.History([]domain.StoredMessage{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAssistant, Content: "b"},
	})
	want := []domain.Message{{Role: domain.RoleUser, Content: "a"}, {Role: domain.RoleAssistant, Content: "b"}}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("History = %+v, want %+v", got, want)
	}
}
