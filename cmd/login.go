package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/safewatch/internal/model"
	"github.com/sells-group/safewatch/pkg/api"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session locally",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		email, _ := cmd.Flags().GetString("email")
		password, err := passwordFlag(cmd, os.Stdin)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		user, err := env.Session.Login(ctx, email, password)
		if err != nil {
			return eris.Wrap(err, "login")
		}
		printSignedIn(cmd.OutOrStdout(), user, email)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		phone, _ := cmd.Flags().GetString("phone")
		password, err := passwordFlag(cmd, os.Stdin)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		user, err := env.Session.Register(ctx, api.RegisterRequest{Name: name, Email: email, Password: password, Phone: phone})
		if err != nil {
			return eris.Wrap(err, "register")
		}
		printSignedIn(cmd.OutOrStdout(), user, email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Session.Logout(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	},
}

// passwordFlag reads --password, falling back to one line of stdin.
func passwordFlag(cmd *cobra.Command, in io.Reader) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", eris.Wrap(err, "read password")
	}
	password = strings.TrimSpace(line)
	if password == "" {
		return "", eris.New("password is required (--password or stdin)")
	}
	return password, nil
}

func printSignedIn(out io.Writer, user *model.User, email string) {
	name := email
	if user != nil && user.Name != "" {
		name = user.Name
	}
	_, _ = fmt.Fprintf(out, "Signed in as %s.\n", name)
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	loginCmd.Flags().String("password", "", "account password (read from stdin when empty)")
	_ = loginCmd.MarkFlagRequired("email")

	registerCmd.Flags().String("name", "", "display name")
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("phone", "", "phone number in E.164 format")
	registerCmd.Flags().String("password", "", "account password (read from stdin when empty)")
	_ = registerCmd.MarkFlagRequired("name")
	_ = registerCmd.MarkFlagRequired("email")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(logoutCmd)
}
