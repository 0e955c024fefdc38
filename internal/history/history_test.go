package history

import (
	"context"
	"path/filepath"
	"testing"

	"relay/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func turn() []model.Message {
	return []model.Message{
		{Role: model.RoleUser, Content: []model.ContentItem{model.TextItem("look"), model.ImageItem("https://x/y.png")}},
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCallRequest{{ID: "c1", Name: "get_weather", Arguments: map[string]any{"city": "Paris"}}}},
		{Role: model.RoleTool, ToolCallID: "c1", ToolName: "get_weather", IsError: true, Content: []model.ContentItem{model.TextItem("timeout")}},
		model.NewTextMessage(model.RoleAssistant, "Could not reach the service."),
	}
}

func TestStoresKeepSessionsApart(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLite(t),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, b := s.Session("a"), s.Session("b")

			if err := a.Append(ctx, turn()...); err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := b.Append(ctx, model.NewTextMessage(model.RoleUser, "other")); err != nil {
				t.Fatalf("append: %v", err)
			}

			got, err := a.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(got) != 4 {
				t.Fatalf("expected 4 messages, got %d", len(got))
			}
			if !got[0].HasImages() || got[0].Content[1].ImageRef != "https://x/y.png" {
				t.Fatalf("image lost: %+v", got[0])
			}
			if got[1].ToolCalls[0].Arguments["city"] != "Paris" {
				t.Fatalf("tool call lost: %+v", got[1])
			}
			if got[2].ToolCallID != "c1" || !got[2].IsError {
				t.Fatalf("tool result lost: %+v", got[2])
			}
			if got[3].Text() != "Could not reach the service." {
				t.Fatalf("order lost: %+v", got)
			}

			if err := a.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			got, _ = a.Load(ctx)
			if len(got) != 0 {
				t.Fatalf("expected empty session after clear, got %d", len(got))
			}
			got, _ = b.Load(ctx)
			if len(got) != 1 {
				t.Fatalf("clear leaked into other session: %d", len(got))
			}
		})
	}
}

func TestMemoryLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryStore().Session("s")
	_ = h.Append(ctx, model.NewTextMessage(model.RoleUser, "hi"))

	got, _ := h.Load(ctx)
	got[0].Content[0].Text = "changed"

	again, _ := h.Load(ctx)
	if again[0].Text() != "hi" {
		t.Fatalf("store mutated through Load result: %q", again[0].Text())
	}
}

func TestSQLiteReopenKeepsMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Session("x").Append(ctx, model.NewTextMessage(model.RoleUser, "persist me")); err != nil {
		t.Fatal(err)
	}
	_ = s.Session("y").Append(ctx, model.NewTextMessage(model.RoleUser, "later"))
	_ = s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Session("x").Load(ctx)
	if err != nil || len(got) != 1 || got[0].Text() != "persist me" {
		t.Fatalf("unexpected after reopen: %+v %v", got, err)
	}
	ids, err := s.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "y" {
		t.Fatalf("unexpected sessions %v", ids)
	}
}

func TestOpen(t *testing.T) {
	if _, err := Open("memory", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := Open("sqlite", ""); err == nil {
		t.Fatal("expected error without path")
	}
	if _, err := Open("redis", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "o.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
}
