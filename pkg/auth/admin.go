package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go/types"
)

const adminPageSize = 100

// Admin performs privileged operations with the service role key.
type Admin struct {
	client *Client
}

// NewAdmin returns ErrNoServiceRole when serviceRoleKey is empty.
func NewAdmin(baseURL, serviceRoleKey string) (*Admin, error) {
	if serviceRoleKey == "" {
		return nil, ErrNoServiceRole
	}

	return &Admin{client: NewClient(baseURL, serviceRoleKey)}, nil
}

// FindUserByEmail pages through all users looking for email. gotrue-go lists the first page only.
func (a *Admin) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	for page := 1; ; page++ {
		resp := struct {
			Users []User `json:"users"`
		}{}

		path := fmt.Sprintf("/admin/users?page=%d&per_page=%d", page, adminPageSize)
		err := a.client.do(ctx, http.MethodGet, path, "", nil, &resp)
		if err != nil {
			return nil, err
		}

		for i := range resp.Users {
			if strings.ToLower(resp.Users[i].Email) == email {
				return &resp.Users[i], nil
			}
		}

		if len(resp.Users) < adminPageSize {
			return nil, ErrUserNotFound
		}
	}
}

// ConfirmUser marks the email of the user with id as confirmed.
func (a *Admin) ConfirmUser(ctx context.Context, id string) (*User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrUserNotFound
	}

	resp, err := a.client.api(ctx, a.client.apiKey, nil).AdminUpdateUser(types.AdminUpdateUserRequest{
		UserID:       uid,
		EmailConfirm: true,
	})
	if err != nil {
		return nil, translate(err)
	}

	user := toUser(resp.User)
	return &user, nil
}
