package sessions_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	"github.com/soapboxsocial/glimpse/pkg/conf"
	"github.com/soapboxsocial/glimpse/pkg/redis"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
)

func testPersister(t *testing.T, p sessions.Persister) {
	t.Helper()

	ctx := context.Background()

	_, err := p.Load(ctx)
	if err != sessions.ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	session := &auth.Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         auth.User{ID: "u1", Email: "jane@example.com"},
	}

	err = p.Save(ctx, session)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := p.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" || loaded.User.ID != "u1" {
		t.Fatalf("unexpected session %v", loaded)
	}

	err = p.Clear(ctx)
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Load(ctx)
	if err != sessions.ErrNoSession {
		t.Fatalf("expected ErrNoSession after clear, got %v", err)
	}

	err = p.Clear(ctx)
	if err != nil {
		t.Fatalf("clear should be idempotent, got %v", err)
	}
}

func TestFilePersister(t *testing.T) {
	testPersister(t, sessions.NewFilePersister(t.TempDir(), "default"))
}

func TestRedisPersister(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatal(err)
	}

	rdb := redis.NewRedis(conf.RedisConf{Host: mr.Host(), Port: port, DisableTLS: true})

	testPersister(t, sessions.NewRedisPersister(rdb, "default"))

	session := &auth.Session{AccessToken: "access", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	err = sessions.NewRedisPersister(rdb, "default").Save(context.Background(), session)
	if err != nil {
		t.Fatal(err)
	}

	ttl := mr.TTL("session_default")
	if ttl < sessions.RefreshWindow || ttl > sessions.RefreshWindow+time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	mr.FastForward(sessions.RefreshWindow + 2*time.Hour)

	_, err = sessions.NewRedisPersister(rdb, "default").Load(context.Background())
	if err != sessions.ErrNoSession {
		t.Fatalf("expected session to expire, got %v", err)
	}
}
