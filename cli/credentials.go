package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yllada/passage/common"
	"github.com/yllada/passage/profile"
	"github.com/yllada/passage/vpn"
)

// newCredentialsCmd creates the credentials command group.
func (cli *CLI) newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "credentials",
		Aliases: []string{"creds"},
		Short:   "Manage stored profile credentials",
		Long: `Manage the username and password of a profile. Passwords are kept
in the system keyring, or in an encrypted file when no keyring is available.`,
	}

	cmd.AddCommand(
		cli.newCredentialsSetCmd(),
		cli.newCredentialsDeleteCmd(),
	)

	return cmd
}

// newCredentialsSetCmd creates the credentials set command.
func (cli *CLI) newCredentialsSetCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "set <profile>",
		Short: "Prompt for and store the credentials of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}
			creds, err := cli.promptCredentials(cmd, p.Title, profile.Credentials{Username: username})
			if err != nil {
				return err
			}
			if store.RequiresCredentials(p) && !creds.IsValid() {
				return common.ErrInvalidCredentials
			}
			if err := store.SetCredentials(p.Key(), creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved credentials for %s\n", p.Title)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (prompted when omitted)")

	return cmd
}

// newCredentialsDeleteCmd creates the credentials delete command.
func (cli *CLI) newCredentialsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <profile>",
		Aliases: []string{"rm"},
		Short:   "Forget the stored password of a profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, p, err := cli.findProfile(args[0])
			if err != nil {
				return err
			}
			if err := store.SetCredentials(p.Key(), profile.Credentials{Username: p.Username}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted password of %s\n", p.Title)
			return nil
		},
	}
}

// promptCredentials asks for the username when unknown, then for the
// password. Prompts go to stderr so stdout stays parseable.
func (cli *CLI) promptCredentials(cmd *cobra.Command, title string, initial profile.Credentials) (profile.Credentials, error) {
	out := cmd.ErrOrStderr()
	creds := initial

	if creds.Username == "" {
		fmt.Fprintf(out, "Username for %s: ", title)
		line, err := cli.readLine()
		if err != nil {
			return creds, fmt.Errorf("failed to read username: %w", err)
		}
		creds.Username = strings.TrimSpace(line)
	}

	fmt.Fprintf(out, "Password for %s: ", title)
	password, err := cli.readPassword()
	fmt.Fprintln(out)
	if err != nil {
		return creds, fmt.Errorf("failed to read password: %w", err)
	}
	creds.Password = password
	return creds, nil
}

func (cli *CLI) readLine() (string, error) {
	if cli.reader == nil {
		cli.reader = bufio.NewReader(cli.in)
	}
	line, err := cli.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads without echo from a terminal, or a plain line
// from piped input.
func (cli *CLI) readPassword() (string, error) {
	if f, ok := cli.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		return string(b), err
	}
	return cli.readLine()
}

// terminalPrompter resolves credential requests on the terminal.
type terminalPrompter struct {
	ctx context.Context
	cli *CLI
	cmd *cobra.Command
}

// RequestCredentials implements vpn.Prompter. It runs on the goroutine
// that called Toggle, after the coordinator lock is released.
func (p *terminalPrompter) RequestCredentials(req *vpn.CredentialRequest) {
	for {
		creds, err := p.read(req)
		if err != nil {
			common.LogDebug("Credential prompt for %s ended: %v", req.Title, err)
			req.Cancel()
			return
		}

		err = req.Submit(p.ctx, creds)
		switch {
		case errors.Is(err, common.ErrInvalidCredentials):
			fmt.Fprintln(p.cmd.ErrOrStderr(), "A username is required.")
			continue
		case err != nil && !errors.Is(err, common.ErrRequestResolved):
			common.LogWarn("Failed to connect %s: %v", req.Title, err)
		}
		return
	}
}

type promptResult struct {
	creds profile.Credentials
	err   error
}

// read prompts in the background so an interrupt is not stuck behind a
// blocking terminal read.
func (p *terminalPrompter) read(req *vpn.CredentialRequest) (profile.Credentials, error) {
	result := make(chan promptResult, 1)
	go func() {
		creds, err := p.cli.promptCredentials(p.cmd, req.Title, req.Initial)
		result <- promptResult{creds, err}
	}()

	select {
	case r := <-result:
		if errors.Is(r.err, io.EOF) {
			return r.creds, fmt.Errorf("%w: %v", common.ErrCancelled, r.err)
		}
		return r.creds, r.err
	case <-req.Done():
		return profile.Credentials{}, common.ErrRequestResolved
	case <-p.ctx.Done():
		return profile.Credentials{}, fmt.Errorf("%w: %v", common.ErrCancelled, p.ctx.Err())
	}
}
