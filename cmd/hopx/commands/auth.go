package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hopx-ai/hopx-cli/internal/auth"
	"github.com/hopx-ai/hopx-cli/internal/login"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage hopx credentials",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "log in through the browser (OAuth)",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "headless",
						Usage: "do not start a callback server; paste the redirect URL instead",
					},
					&cli.BoolFlag{
						Name:  "no-qr",
						Usage: "do not print a QR code of the login URL",
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "do not open a browser",
					},
					&cli.BoolFlag{
						Name:  "no-copy",
						Usage: "do not copy the login URL to the clipboard",
					},
				},
				Action: authLoginAction,
			},
			{
				Name:      "set-key",
				Usage:     "store an API key (prompts when KEY is omitted)",
				ArgsUsage: "[KEY]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-keyring",
						Usage: "store the key in the credentials file instead of the system keyring",
					},
				},
				Action: authSetKeyAction,
			},
			{
				Name:  "status",
				Usage: "show the credentials available for the profile",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "print status as JSON",
					},
				},
				Action: authStatusAction,
			},
			{
				Name:   "token",
				Usage:  "print the credential used for API calls",
				Action: authTokenAction,
			},
			{
				Name:  "logout",
				Usage: "remove stored credentials of the profile",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "remove credentials of every profile and delete the credentials file",
					},
				},
				Action: authLogoutAction,
			},
		},
	}
}

func authLoginAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	root := cmd.Root()
	tok, err := application.Login(ctx, login.Options{
		Headless:  cmd.Bool("headless"),
		NoQR:      cmd.Bool("no-qr"),
		NoBrowser: cmd.Bool("no-browser"),
		NoCopy:    cmd.Bool("no-copy"),
	}, login.WithOutput(root.ErrWriter), login.WithInput(root.Reader))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	_, _ = fmt.Fprintf(root.Writer, "Logged in (profile %s)\n", application.Store().Profile())
	if exp := tok.Expiry(); !exp.IsZero() {
		_, _ = fmt.Fprintf(root.Writer, "Access token expires at %s\n", exp.Local().Format(time.RFC3339))
	}
	return nil
}

func authSetKeyAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	root := cmd.Root()
	key := strings.TrimSpace(cmd.Args().First())
	if key == "" {
		if key, err = promptSecret(root.Reader, root.ErrWriter, "API key: "); err != nil {
			return fmt.Errorf("reading api key: %w", err)
		}
	}

	if err := application.SetAPIKey(ctx, key, !cmd.Bool("no-keyring")); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(root.Writer, "API key stored (profile %s)\n", application.Store().Profile())
	return nil
}

func authStatusAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	status := application.Status(ctx)
	w := cmd.Root().Writer

	if cmd.Bool("json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	_, _ = fmt.Fprintf(w, "Profile:       %s\n", status.Profile)
	if !status.IsAuthenticated {
		_, _ = fmt.Fprintln(w, "Authenticated: no")
		_, _ = fmt.Fprintln(w, "Run `hopx auth login` or `hopx auth set-key` to authenticate.")
		return nil
	}
	_, _ = fmt.Fprintln(w, "Authenticated: yes")
	_, _ = fmt.Fprintf(w, "Method:        %s\n", status.AuthMethod)
	if status.HasAPIKey {
		_, _ = fmt.Fprintf(w, "API key:       %s\n", status.APIKeyPreview)
	}
	return nil
}

func authTokenAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	token, err := application.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return fmt.Errorf("%w: run `hopx auth login` or `hopx auth set-key`", err)
		}
		return err
	}

	_, _ = fmt.Fprintln(cmd.Root().Writer, token)
	return nil
}

func authLogoutAction(ctx context.Context, cmd *cli.Command) error {
	application, cleanup, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cleared, err := application.Logout(ctx, cmd.Bool("all"))
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	w := cmd.Root().Writer
	if cmd.Bool("all") {
		_, _ = fmt.Fprintln(w, "Removed credentials of all profiles")
	} else {
		_, _ = fmt.Fprintf(w, "Removed credentials (profile %s)\n", application.Store().Profile())
	}
	if len(cleared) > 0 {
		_, _ = fmt.Fprintf(w, "API keys removed for: %s\n", strings.Join(cleared, ", "))
	}
	return nil
}

// promptSecret reads a secret without echo from a terminal, or a single line otherwise.
func promptSecret(r io.Reader, w io.Writer, prompt string) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(w, prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(w)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
