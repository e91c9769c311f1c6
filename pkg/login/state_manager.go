package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const stateExpiration = 15 * time.Minute

var ErrStateNotFound = errors.New("login state not found")

// State represents a pending magic link sign in
type State struct {
	Email    string `json:"email"`
	Verifier string `json:"verifier"`
}

// StateManager is responsible for handling the login state of a user
type StateManager struct {
	rdb *redis.Client
}

// NewStateManager creates a new state manager
func NewStateManager(rdb *redis.Client) *StateManager {
	return &StateManager{rdb: rdb}
}

// GetState returns the login state for a given token, ErrStateNotFound once it expired or was used.
func (sm *StateManager) GetState(ctx context.Context, token string) (*State, error) {
	res, err := sm.rdb.Get(ctx, key(token)).Result()
	if err == redis.Nil {
		return nil, ErrStateNotFound
	}

	if err != nil {
		return nil, err
	}

	state := &State{}
	err = json.Unmarshal([]byte(res), state)
	if err != nil {
		return nil, err
	}

	return state, nil
}

// SetVerifierState stores the PKCE verifier of a sign in started for email
func (sm *StateManager) SetVerifierState(ctx context.Context, token, email, verifier string) error {
	state := &State{
		Email:    email,
		Verifier: verifier,
	}

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return sm.rdb.Set(ctx, key(token), data, stateExpiration).Err()
}

// RemoveState removes the state
func (sm *StateManager) RemoveState(ctx context.Context, token string) {
	sm.rdb.Del(ctx, key(token))
}

func key(token string) string {
	return fmt.Sprintf("login_state_%s", token)
}
