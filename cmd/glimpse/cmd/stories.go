package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/soapboxsocial/glimpse/pkg/uploads"
)

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "list active stories",
	RunE:  runStories,
}

var story = &cobra.Command{
	Use:   "story <file>",
	Short: "publish a story for 24 hours",
	Args:  cobra.ExactArgs(1),
	RunE:  runStory,
}

func runStories(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	now := time.Now()

	list, err := a.stories.Active(a.store.Context(cmd.Context()), now)
	if err != nil {
		return errors.Wrap(err, "failed to load stories")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for i := range list {
		s := &list[i]

		author := "Unknown"
		if s.Author.Value != nil {
			author = s.Author.Value.Username
		}

		left := s.ExpiresAt.Sub(now).Truncate(time.Minute)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s left\t%s\n", s.ID, author, s.MediaType, left, s.MediaURL)
	}

	return w.Flush()
}

func runStory(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return errors.Wrap(err, "failed to open file")
	}

	defer f.Close()

	service := uploads.NewService(a.store, a.users, a.media, a.posts, a.stories, a.tracker, config.Storage.MediaBucket)

	created, err := service.UploadStory(cmd.Context(), uploads.File{Name: filepath.Base(args[0]), Body: f})
	if err == uploads.ErrNotSignedIn {
		return errNotSignedIn
	}

	if err != nil {
		return errors.Wrap(err, "failed to publish story")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s expires %s\n", created.ID, created.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}
