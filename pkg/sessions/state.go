package sessions

import (
	"github.com/soapboxsocial/glimpse/pkg/users"
)

// State of the session store.
type State int

const (
	Initializing State = iota
	Authenticated
	Anonymous
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	}

	return "unknown"
}

// Snapshot is the state and identity at one point in time. Identity is nil unless Authenticated.
type Snapshot struct {
	State    State
	Identity *users.User
}

func (s Snapshot) Loading() bool {
	return s.State == Initializing
}

func (s Snapshot) identity() *users.User {
	if s.Identity == nil {
		return nil
	}

	return copyUser(s.Identity)
}

func (s Snapshot) copy() Snapshot {
	return Snapshot{State: s.State, Identity: s.identity()}
}

// Transition is delivered to observers on every write to the store.
type Transition struct {
	From Snapshot
	To   Snapshot
}

// Observer is called once per transition, in the order transitions happened.
type Observer func(Transition)

func copyUser(u *users.User) *users.User {
	c := *u
	if u.AvatarURL != nil {
		avatar := *u.AvatarURL
		c.AvatarURL = &avatar
	}

	return &c
}
