package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/soapboxsocial/glimpse/pkg/auth"
)

// ErrNoSession is returned by a Persister holding no session.
var ErrNoSession = errors.New("no session")

// RefreshWindow is how long a session stays persisted after its access token expired.
const RefreshWindow = 7 * 24 * time.Hour

// Persister keeps the session across process restarts.
type Persister interface {
	Load(ctx context.Context) (*auth.Session, error)
	Save(ctx context.Context, session *auth.Session) error
	Clear(ctx context.Context) error
}

// RedisPersister stores the session of one named profile in redis.
type RedisPersister struct {
	rdb  *redis.Client
	name string
}

func NewRedisPersister(rdb *redis.Client, name string) *RedisPersister {
	return &RedisPersister{rdb: rdb, name: name}
}

func (p *RedisPersister) Load(ctx context.Context) (*auth.Session, error) {
	res, err := p.rdb.Get(ctx, p.key()).Result()
	if err == redis.Nil {
		return nil, ErrNoSession
	}

	if err != nil {
		return nil, err
	}

	session := &auth.Session{}
	err = json.Unmarshal([]byte(res), session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (p *RedisPersister) Save(ctx context.Context, session *auth.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	return p.rdb.Set(ctx, p.key(), data, ttl(session, time.Now())).Err()
}

func (p *RedisPersister) Clear(ctx context.Context) error {
	return p.rdb.Del(ctx, p.key()).Err()
}

func (p *RedisPersister) key() string {
	return fmt.Sprintf("session_%s", p.name)
}

// ttl keeps the session until the refresh window after expiry has passed.
func ttl(session *auth.Session, now time.Time) time.Duration {
	if session.ExpiresAt == 0 {
		return RefreshWindow
	}

	d := time.Unix(session.ExpiresAt, 0).Add(RefreshWindow).Sub(now)
	if d <= 0 {
		return time.Second
	}

	return d
}

// FilePersister stores the session of one named profile in a file readable only by the owner.
type FilePersister struct {
	path string
}

func NewFilePersister(dir, name string) *FilePersister {
	return &FilePersister{path: filepath.Join(dir, name+".session.json")}
}

func (p *FilePersister) Load(_ context.Context) (*auth.Session, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}

	if err != nil {
		return nil, err
	}

	session := &auth.Session{}
	err = json.Unmarshal(data, session)
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (p *FilePersister) Save(_ context.Context, session *auth.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(p.path), 0700)
	if err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return err
	}

	return os.Rename(tmp, p.path)
}

func (p *FilePersister) Clear(_ context.Context) error {
	err := os.Remove(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return err
}
