package cmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	httputil "github.com/soapboxsocial/glimpse/pkg/http"
	"github.com/soapboxsocial/glimpse/pkg/media"
	"github.com/soapboxsocial/glimpse/pkg/sql"
	"github.com/soapboxsocial/glimpse/pkg/stories"
)

var admin = &cobra.Command{
	Use:   "admin",
	Short: "privileged maintenance, requires the service role key",
}

var confirmUser = &cobra.Command{
	Use:   "confirm-user <email>",
	Short: "mark the email of a user as confirmed",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfirmUser,
}

var sweepStories = &cobra.Command{
	Use:   "sweep-stories",
	Short: "delete expired stories and their media",
	RunE:  runSweepStories,
}

func init() {
	admin.AddCommand(confirmUser)
	admin.AddCommand(sweepStories)
}

func runConfirmUser(cmd *cobra.Command, args []string) error {
	client, err := auth.NewAdmin(config.Backend.URL, config.Backend.ServiceRoleKey)
	if err != nil {
		return err
	}

	user, err := client.FindUserByEmail(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to find %s", args[0])
	}

	if user.Confirmed() {
		fmt.Fprintln(cmd.OutOrStdout(), "already confirmed")
		return nil
	}

	_, err = client.ConfirmUser(cmd.Context(), user.ID)
	if err != nil {
		return errors.Wrap(err, "failed to confirm user")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "confirmed %s\n", user.ID)
	return nil
}

func runSweepStories(cmd *cobra.Command, _ []string) error {
	if config.Backend.ServiceRoleKey == "" {
		return auth.ErrNoServiceRole
	}

	db, err := sql.Open(config.DB)
	if err != nil {
		return errors.Wrap(err, "failed to open db")
	}

	defer db.Close()

	urls, err := stories.NewSweeper(db).DeleteExpired(time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to delete expired stories")
	}

	files := media.NewBackend(config.Backend)
	ctx := httputil.WithAccessToken(cmd.Context(), config.Backend.ServiceRoleKey)

	paths := make([]string, 0, len(urls))
	for _, url := range urls {
		path, ok := files.PathFromURL(config.Storage.MediaBucket, url)
		if !ok {
			log.Warn().Str("url", url).Msg("story media is not in the media bucket")
			continue
		}

		paths = append(paths, path)
	}

	err = files.Remove(ctx, config.Storage.MediaBucket, paths...)
	if err != nil {
		log.Error().Err(err).Msg("failed to remove story media")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d stories\n", len(urls))
	return nil
}
