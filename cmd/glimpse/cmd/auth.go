package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/soapboxsocial/glimpse/pkg/auth"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
	"github.com/soapboxsocial/glimpse/pkg/tracking"
)

var (
	email    string
	password string
	username string
)

var signup = &cobra.Command{
	Use:   "signup",
	Short: "create an account",
	RunE:  runSignUp,
}

var signin = &cobra.Command{
	Use:   "signin",
	Short: "sign in with email and password",
	RunE:  runSignIn,
}

var signout = &cobra.Command{
	Use:   "signout",
	Short: "sign out and forget the session",
	RunE:  runSignOut,
}

var whoami = &cobra.Command{
	Use:   "whoami",
	Short: "print the signed in user",
	RunE:  runWhoAmI,
}

func init() {
	for _, c := range []*cobra.Command{signup, signin} {
		c.Flags().StringVarP(&email, "email", "e", "", "email address")
		c.Flags().StringVarP(&password, "password", "p", "", "password, read from stdin when empty")
		_ = c.MarkFlagRequired("email")
	}

	signup.Flags().StringVarP(&username, "username", "u", "", "username")
}

func runSignUp(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	pw, err := readPassword(cmd)
	if err != nil {
		return err
	}

	err = a.store.SignUp(cmd.Context(), auth.SignUpRequest{Email: email, Password: pw, Username: username})
	if err == sessions.ErrConfirmationRequired {
		fmt.Fprintf(cmd.OutOrStdout(), "check %s to confirm your account, then sign in\n", email)
		return nil
	}

	if err != nil {
		return errors.Wrap(err, "failed to sign up")
	}

	user := a.store.CurrentIdentity()
	tracking.Track(a.tracker, &tracking.Event{
		ID:         user.ID,
		Name:       tracking.NewUser,
		Properties: map[string]interface{}{"username": user.Username, "email": user.Email},
	})

	fmt.Fprintf(cmd.OutOrStdout(), "welcome %s\n", user.Username)
	return nil
}

func runSignIn(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	pw, err := readPassword(cmd)
	if err != nil {
		return err
	}

	err = a.store.SignIn(cmd.Context(), email, pw)
	if err != nil {
		return errors.Wrap(err, "failed to sign in")
	}

	user := a.store.CurrentIdentity()
	tracking.Track(a.tracker, &tracking.Event{ID: user.ID, Name: tracking.SignIn, Properties: map[string]interface{}{"method": "password"}})

	fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", user.Username)
	return nil
}

func runSignOut(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	err = a.store.SignOut(cmd.Context())
	if err != nil {
		// the local session is gone either way.
		fmt.Fprintln(cmd.ErrOrStderr(), "signed out locally, the session could not be revoked")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), "signed out")
	return nil
}

func runWhoAmI(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	user := a.store.CurrentIdentity()
	if user == nil {
		fmt.Fprintln(cmd.OutOrStdout(), a.store.State())
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", user.ID, user.Username, user.Email, user.Avatar())
	return nil
}

func readPassword(cmd *cobra.Command) (string, error) {
	if password != "" {
		return password, nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, "failed to read password")
	}

	return strings.TrimRight(line, "\r\n"), nil
}
