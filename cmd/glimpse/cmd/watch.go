package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/soapboxsocial/glimpse/pkg/realtime"
)

var watch = &cobra.Command{
	Use:   "watch <post>",
	Short: "follow likes and comments of a post as they happen",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	defer a.Close()

	postID := args[0]
	ctx = a.store.Context(ctx)

	likes, err := a.likes.Count(ctx, postID)
	if err != nil {
		return errors.Wrap(err, "failed to count likes")
	}

	manager, err := realtime.NewManager(config.Backend)
	if err != nil {
		return errors.Wrap(err, "failed to create realtime manager")
	}

	defer manager.Close()

	scope := manager.NewScope()
	defer scope.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "likes=%d\n", likes)

	// changes of one subscription arrive in order, the likes counter is only touched by its handler.
	_, err = scope.Subscribe(ctx, realtime.Filter{Table: "likes", Column: "post_id", Value: postID}, func(c realtime.Change) {
		switch c.Type {
		case realtime.EventInsert:
			likes++
		case realtime.EventDelete:
			likes--
		}

		fmt.Fprintf(out, "likes=%d\n", likes)
	})
	if err != nil {
		return errors.Wrap(err, "failed to watch likes")
	}

	filter := realtime.Filter{Table: "comments", Column: "post_id", Value: postID, Events: []realtime.Event{realtime.EventInsert}}
	_, err = scope.Subscribe(ctx, filter, func(c realtime.Change) {
		fmt.Fprintf(out, "comment: %v\n", c.Record["text"])
	})
	if err != nil {
		return errors.Wrap(err, "failed to watch comments")
	}

	filter = realtime.Filter{Table: "posts", Column: "id", Value: postID, Events: []realtime.Event{realtime.EventDelete}}
	_, err = scope.Subscribe(ctx, filter, func(realtime.Change) {
		fmt.Fprintln(out, "post deleted")
		stop()
	})
	if err != nil {
		return errors.Wrap(err, "failed to watch post")
	}

	log.Debug().Str("post", postID).Int("channels", scope.Len()).Msg("watching")

	<-ctx.Done()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}

	return ctx.Err()
}
