package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/soapboxsocial/glimpse/pkg/posts"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/tracking"
	"github.com/soapboxsocial/glimpse/pkg/uploads"
)

var (
	limit   int
	offset  int
	caption string
)

var feed = &cobra.Command{
	Use:   "feed",
	Short: "list the newest posts",
	RunE:  runFeed,
}

var post = &cobra.Command{
	Use:   "post <file> <title>",
	Short: "publish a photo or video",
	Args:  cobra.ExactArgs(2),
	RunE:  runPost,
}

var deletePost = &cobra.Command{
	Use:   "delete <post>",
	Short: "delete one of your posts",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeletePost,
}

var like = &cobra.Command{
	Use:   "like <post>",
	Short: "like a post, or unlike it if you already do",
	Args:  cobra.ExactArgs(1),
	RunE:  runLike,
}

var commentsCmd = &cobra.Command{
	Use:   "comments <post>",
	Short: "list the comments of a post",
	Args:  cobra.ExactArgs(1),
	RunE:  runComments,
}

var comment = &cobra.Command{
	Use:   "comment <post> <text>",
	Short: "comment on a post",
	Args:  cobra.ExactArgs(2),
	RunE:  runComment,
}

func init() {
	feed.Flags().IntVarP(&limit, "limit", "l", 20, "number of posts")
	feed.Flags().IntVarP(&offset, "offset", "o", 0, "posts to skip")

	post.Flags().StringVar(&caption, "caption", "", "caption")
}

func runFeed(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	list, err := a.posts.Feed(a.store.Context(cmd.Context()), rest.Page{Limit: limit, Offset: offset})
	if err != nil {
		return errors.Wrap(err, "failed to load feed")
	}

	printPosts(cmd.OutOrStdout(), list)
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
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

	created, err := service.UploadPost(cmd.Context(), uploads.File{Name: filepath.Base(args[0]), Body: f}, args[1], caption)
	if err == uploads.ErrNotSignedIn {
		return errNotSignedIn
	}

	if err != nil {
		return errors.Wrap(err, "failed to publish post")
	}

	fmt.Fprintln(cmd.OutOrStdout(), created.ID)
	return nil
}

func runDeletePost(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	ctx, user, err := a.identity(cmd.Context())
	if err != nil {
		return err
	}

	err = a.posts.Delete(ctx, user.ID, args[0])
	if err != nil {
		return errors.Wrap(err, "failed to delete post")
	}

	tracking.Track(a.tracker, &tracking.Event{ID: user.ID, Name: tracking.PostDeleted, Properties: map[string]interface{}{"post_id": args[0]}})

	fmt.Fprintln(cmd.OutOrStdout(), "deleted")
	return nil
}

func runLike(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	ctx, user, err := a.identity(cmd.Context())
	if err != nil {
		return err
	}

	liked, err := a.likes.Toggle(ctx, user.ID, args[0])
	if err != nil {
		return errors.Wrap(err, "failed to like post")
	}

	count, err := a.likes.Count(ctx, args[0])
	if err != nil {
		return errors.Wrap(err, "failed to count likes")
	}

	if liked {
		tracking.Track(a.tracker, &tracking.Event{ID: user.ID, Name: tracking.PostLiked, Properties: map[string]interface{}{"post_id": args[0]}})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "liked=%t likes=%d\n", liked, count)
	return nil
}

func runComments(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	list, err := a.comments.List(a.store.Context(cmd.Context()), args[0])
	if err != nil {
		return errors.Wrap(err, "failed to load comments")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for i := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", list[i].CreatedAt.Local().Format(time.Kitchen), list[i].AuthorName(), list[i].Text)
	}

	return w.Flush()
}

func runComment(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	ctx, user, err := a.identity(cmd.Context())
	if err != nil {
		return err
	}

	created, err := a.comments.Create(ctx, user.ID, args[0], args[1])
	if err != nil {
		return errors.Wrap(err, "failed to comment")
	}

	fmt.Fprintln(cmd.OutOrStdout(), created.ID)
	return nil
}

func printPosts(out io.Writer, list []posts.Post) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i := range list {
		p := &list[i]

		author := "Unknown"
		if p.Author.Value != nil {
			author = p.Author.Value.Username
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, author, p.Title, p.MediaType, p.MediaURL)
	}

	_ = w.Flush()
}
