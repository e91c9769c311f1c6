package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/soapboxsocial/glimpse/pkg/profile"
	"github.com/soapboxsocial/glimpse/pkg/rest"
	"github.com/soapboxsocial/glimpse/pkg/tracking"
	"github.com/soapboxsocial/glimpse/pkg/users"
)

var follow = &cobra.Command{
	Use:   "follow <user>",
	Short: "follow a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runFollow,
}

var unfollow = &cobra.Command{
	Use:   "unfollow <user>",
	Short: "stop following a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnfollow,
}

var profileCmd = &cobra.Command{
	Use:   "profile [user]",
	Short: "show a profile, yours when no user is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProfile,
}

func runFollow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	ctx, user, err := a.identity(cmd.Context())
	if err != nil {
		return err
	}

	err = a.followers.FollowUser(ctx, user.ID, args[0])
	if err != nil {
		return errors.Wrap(err, "failed to follow")
	}

	tracking.Track(a.tracker, &tracking.Event{ID: user.ID, Name: tracking.UserFollowed, Properties: map[string]interface{}{"user_id": args[0]}})

	fmt.Fprintln(cmd.OutOrStdout(), "following")
	return nil
}

func runUnfollow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	ctx, user, err := a.identity(cmd.Context())
	if err != nil {
		return err
	}

	err = a.followers.UnfollowUser(ctx, user.ID, args[0])
	if err != nil {
		return errors.Wrap(err, "failed to unfollow")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "unfollowed")
	return nil
}

func runProfile(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	id := ""
	if len(args) == 1 {
		id = args[0]
	}

	view, err := profile.NewLoader(a.store, a.users, a.posts, a.stories, a.followers).Load(cmd.Context(), id)
	if err == profile.ErrNotSignedIn {
		return errNotSignedIn
	}

	if err != nil {
		return errors.Wrap(err, "failed to load profile")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", view.User.Username, view.ID)
	fmt.Fprintf(out, "avatar:    %s\n", view.User.Avatar())
	fmt.Fprintf(out, "posts:     %d\n", view.PostCount)
	fmt.Fprintf(out, "followers: %d\n", view.Followers)
	fmt.Fprintf(out, "following: %d\n", view.Following)
	fmt.Fprintf(out, "stories:   %d\n", len(view.Stories))

	if !view.Own && a.store.CurrentIdentity() != nil {
		fmt.Fprintf(out, "you follow: %t\n", view.IsFollowing)
	}

	if len(view.Posts) > 0 {
		fmt.Fprintln(out)
		printPosts(out, view.Posts)
	}

	return nil
}

var (
	userLimit  int
	userOffset int
)

var followersCmd = &cobra.Command{
	Use:   "followers [user]",
	Short: "list who follows a user, you when no user is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFollowers,
}

var followingCmd = &cobra.Command{
	Use:   "following [user]",
	Short: "list who a user follows, you when no user is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFollowing,
}

var friends = &cobra.Command{
	Use:   "friends [user]",
	Short: "list mutual follows, yours when no user is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runFriends,
}

func init() {
	for _, c := range []*cobra.Command{followersCmd, followingCmd} {
		c.Flags().IntVarP(&userLimit, "limit", "l", 50, "number of users")
		c.Flags().IntVarP(&userOffset, "offset", "o", 0, "users to skip")
	}
}

func runFollowers(cmd *cobra.Command, args []string) error {
	return listUsers(cmd, args, func(ctx context.Context, a *app, id string) ([]users.User, error) {
		return a.followers.GetAllUsersFollowing(ctx, id, rest.Page{Limit: userLimit, Offset: userOffset})
	})
}

func runFollowing(cmd *cobra.Command, args []string) error {
	return listUsers(cmd, args, func(ctx context.Context, a *app, id string) ([]users.User, error) {
		return a.followers.GetAllUsersFollowedBy(ctx, id, rest.Page{Limit: userLimit, Offset: userOffset})
	})
}

func runFriends(cmd *cobra.Command, args []string) error {
	return listUsers(cmd, args, func(ctx context.Context, a *app, id string) ([]users.User, error) {
		return a.followers.GetFriends(ctx, id)
	})
}

func listUsers(cmd *cobra.Command, args []string, list func(ctx context.Context, a *app, id string) ([]users.User, error)) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	ctx := a.store.Context(cmd.Context())

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		user := a.store.CurrentIdentity()
		if user == nil {
			return errNotSignedIn
		}

		id = user.ID
	}

	result, err := list(ctx, a, id)
	if err != nil {
		return errors.Wrap(err, "failed to list users")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	for i := range result {
		fmt.Fprintf(w, "%s\t%s\n", result[i].ID, result[i].Username)
	}

	return w.Flush()
}
