package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	accounts "github.com/soapboxsocial/glimpse/pkg/account"
)

var account = &cobra.Command{
	Use:   "account",
	Short: "manage the signed in account",
}

var changeUsername = &cobra.Command{
	Use:   "username <name>",
	Short: "change your username",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangeUsername,
}

var changeAvatar = &cobra.Command{
	Use:   "avatar <image>",
	Short: "change your avatar, png or jpeg",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangeAvatar,
}

var forgotPassword = &cobra.Command{
	Use:   "forgot-password <email>",
	Short: "email a password recovery code",
	Args:  cobra.ExactArgs(1),
	RunE:  runForgotPassword,
}

var resetPassword = &cobra.Command{
	Use:   "reset-password <email> <code>",
	Short: "set a new password with a recovery code",
	Args:  cobra.ExactArgs(2),
	RunE:  runResetPassword,
}

var resendConfirmation = &cobra.Command{
	Use:   "resend-confirmation <email>",
	Short: "send the confirmation email again",
	Args:  cobra.ExactArgs(1),
	RunE:  runResendConfirmation,
}

func init() {
	resetPassword.Flags().StringVarP(&password, "password", "p", "", "new password, read from stdin when empty")

	account.AddCommand(changeUsername)
	account.AddCommand(changeAvatar)
	account.AddCommand(forgotPassword)
	account.AddCommand(resetPassword)
	account.AddCommand(resendConfirmation)
}

func newAccountService(a *app) *accounts.Service {
	return accounts.NewService(a.store, a.users, a.auth, a.media, config.Storage.AvatarBucket)
}

func runChangeUsername(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	user, err := newAccountService(a).ChangeUsername(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrap(err, "failed to change username")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "username changed to %s\n", user.Username)
	return nil
}

func runChangeAvatar(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "failed to read image")
	}

	user, err := newAccountService(a).ChangeAvatar(cmd.Context(), data)
	if err != nil {
		return errors.Wrap(err, "failed to change avatar")
	}

	fmt.Fprintln(cmd.OutOrStdout(), user.Avatar())
	return nil
}

func runForgotPassword(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	err = newAccountService(a).RequestPasswordReset(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrap(err, "failed to request password reset")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "a recovery code was sent to %s\n", args[0])
	return nil
}

func runResetPassword(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	pw, err := readPassword(cmd)
	if err != nil {
		return err
	}

	err = newAccountService(a).ResetPassword(cmd.Context(), args[0], args[1], pw)
	if err != nil {
		return errors.Wrap(err, "failed to reset password")
	}

	fmt.Fprintln(cmd.OutOrStdout(), "password changed")
	return nil
}

func runResendConfirmation(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	defer a.Close()

	err = newAccountService(a).ResendConfirmation(cmd.Context(), args[0])
	if err != nil {
		return errors.Wrap(err, "failed to resend confirmation")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "confirmation sent to %s\n", args[0])
	return nil
}
