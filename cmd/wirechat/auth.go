package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vovakirdan/wirechat-client/internal/remote"
)

func init() {
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
	loginCmd.Flags().StringP("username", "u", "", "username (prompted when empty)")
	registerCmd.Flags().StringP("username", "u", "", "username (prompted when empty)")
	registerCmd.Flags().StringP("email", "e", "", "email address (optional)")
}

func promptLine(in *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(strings.TrimSuffix(label, ": ")), err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(label string) (string, error) {
	fmt.Print(label)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the wirechat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			var err error
			if username, err = promptLine(bufio.NewReader(os.Stdin), "Username: "); err != nil {
				return err
			}
		}
		if username == "" {
			return errors.New("username is required")
		}

		pw, err := promptPassword("Password: ")
		if err != nil {
			return err
		}

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Remote().SignIn(ctx, username, pw)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		fmt.Printf("Signed in as %s\n", s.Username)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the wirechat server and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		in := bufio.NewReader(os.Stdin)
		username, _ := cmd.Flags().GetString("username")
		if username == "" {
			var err error
			if username, err = promptLine(in, "Username: "); err != nil {
				return err
			}
		}
		if username == "" {
			return errors.New("username is required")
		}
		email, _ := cmd.Flags().GetString("email")

		pw, err := promptPassword("Password: ")
		if err != nil {
			return err
		}
		if pw == "" {
			return errors.New("password is required")
		}
		confirm, err := promptPassword("Repeat password: ")
		if err != nil {
			return err
		}
		if confirm != pw {
			return errors.New("passwords do not match")
		}

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Remote().SignUp(ctx, username, email, pw)
		if errors.Is(err, remote.ErrAlreadyExists) {
			return fmt.Errorf("username %q is taken", username)
		}
		if err != nil {
			return fmt.Errorf("sign up: %w", err)
		}
		fmt.Printf("Account created, signed in as %s\n", s.Username)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the local cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Remote().SignOut(ctx); err != nil {
			return fmt.Errorf("sign out: %w", err)
		}
		if err := a.Controller().ClearCache(ctx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Println("Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Remote().Session(ctx)
		if err != nil {
			return fmt.Errorf("no session: %w", err)
		}
		fmt.Printf("%s (%s)\n", s.Username, s.UserID)
		if !s.ExpiresAt.IsZero() {
			fmt.Printf("  expires %s\n", relTime(s.ExpiresAt))
		}
		return nil
	},
}
