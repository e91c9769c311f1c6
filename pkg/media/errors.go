package media

import (
	"context"
	"errors"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/soapboxsocial/glimpse/pkg/rest"
)

// storage-go drops the status of most failures, the storage api messages are matched instead.
var messageKinds = []struct {
	fragment string
	kind     rest.Kind
}{
	{"already exists", rest.KindConflict},
	{"not found", rest.KindNotFound},
	{"jwt", rest.KindUnauthorized},
	{"unauthorized", rest.KindUnauthorized},
	{"row-level security", rest.KindForbidden},
	{"invalid", rest.KindInvalid},
}

// translate turns an error returned by storage-go into a *rest.Error.
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return &rest.Error{Kind: rest.KindTransport, Message: ctxErr.Error(), Err: ctxErr}
	}

	var se *storage_go.StorageError
	if !errors.As(err, &se) {
		return &rest.Error{Kind: rest.KindTransport, Message: err.Error(), Err: err}
	}

	kind := rest.StatusKind(se.Status)
	if kind == rest.KindUnknown {
		message := strings.ToLower(se.Message)
		for _, m := range messageKinds {
			if strings.Contains(message, m.fragment) {
				kind = m.kind
				break
			}
		}
	}

	return &rest.Error{Kind: kind, Message: se.Message, Err: err}
}
