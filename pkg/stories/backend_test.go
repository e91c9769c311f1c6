package stories_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/rest/resttest"
	"github.com/soapboxsocial/glimpse/pkg/stories"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func newBackend(t *testing.T) (*stories.Backend, *resttest.Server) {
	t.Helper()

	server := resttest.NewServer()
	t.Cleanup(server.Close)

	server.Relate("stories", "users", resttest.Relation{Table: "users", LocalColumn: "user_id", ForeignColumn: "id"})
	server.Seed("users", resttest.Row{"id": "a", "username": "alice"})

	client, err := rest.NewClient(server.Config())
	if err != nil {
		t.Fatal(err)
	}

	return stories.NewBackend(client), server
}

func TestBackend_Create(t *testing.T) {
	backend, _ := newBackend(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	story, err := backend.Create(context.Background(), "a", "https://cdn/s.mp4", media.KindVideo, now)
	if err != nil {
		t.Fatal(err)
	}

	if !story.CreatedAt.Equal(now) || story.ExpiresAt.Sub(story.CreatedAt) != stories.Lifetime {
		t.Fatalf("unexpected timestamps %s %s", story.CreatedAt, story.ExpiresAt)
	}
}

func TestBackend_ActiveBoundary(t *testing.T) {
	backend, server := newBackend(t)
	now := time.Now().UTC().Truncate(time.Second)

	server.Seed("stories",
		resttest.Row{
			"id":         "expired",
			"user_id":    "a",
			"created_at": now.Add(-stories.Lifetime - time.Second).Format(time.RFC3339Nano),
			"expires_at": now.Add(-time.Second).Format(time.RFC3339Nano),
		},
		resttest.Row{
			"id":         "expiring",
			"user_id":    "a",
			"created_at": now.Add(-stories.Lifetime + time.Second).Format(time.RFC3339Nano),
			"expires_at": now.Add(time.Second).Format(time.RFC3339Nano),
		},
		resttest.Row{
			"id":         "now",
			"user_id":    "a",
			"created_at": now.Add(-stories.Lifetime).Format(time.RFC3339Nano),
			"expires_at": now.Format(time.RFC3339Nano),
		},
	)

	active, err := backend.Active(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}

	if len(active) != 1 || active[0].ID != "expiring" {
		t.Fatalf("expected only the expiring story, got %+v", active)
	}

	if active[0].Author.Value == nil || active[0].Author.Value.Username != "alice" {
		t.Fatal("expected author to be embedded")
	}

	later, err := backend.Active(context.Background(), now.Add(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	if len(later) != 0 {
		t.Fatalf("expected no stories, got %+v", later)
	}
}

func TestBackend_ActiveForUser(t *testing.T) {
	backend, _ := newBackend(t)
	ctx := context.Background()
	now := time.Now()

	_, err := backend.Create(ctx, "a", "https://cdn/1.png", media.KindImage, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	_, err = backend.Create(ctx, "b", "https://cdn/2.png", media.KindImage, now)
	if err != nil {
		t.Fatal(err)
	}

	active, err := backend.ActiveForUser(ctx, "a", now)
	if err != nil {
		t.Fatal(err)
	}

	if len(active) != 1 || active[0].UserID != "a" {
		t.Fatalf("unexpected stories %+v", active)
	}
}

func TestBackend_Delete(t *testing.T) {
	backend, _ := newBackend(t)
	ctx := context.Background()

	story, err := backend.Create(ctx, "a", "https://cdn/1.png", media.KindImage, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	err = backend.Delete(ctx, "b", story.ID)
	if !rest.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	_, err = backend.FindByID(ctx, story.ID)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		err = backend.Delete(ctx, "a", story.ID)
		if err != nil {
			t.Fatal(err)
		}
	}

	_, err = backend.FindByID(ctx, story.ID)
	if !rest.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
