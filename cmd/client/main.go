package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ZentaChain/talkrelay/pkg/logging"
	"github.com/ZentaChain/talkrelay/pkg/network"
)

const rosterTimeout = 5 * time.Second

const menu = `
1) Send text to a user
2) Send image to a user
3) Send text to everyone
4) Send image to everyone
Exit) Leave
> `

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		server    string
		downloads string
		logLevel  string
		retries   int
	)

	cmd := &cobra.Command{
		Use:          "client",
		Short:        "Chat through a relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logging.Setup(logging.Config{Level: logLevel}); err != nil {
				return err
			}
			con := newConsole(os.Stdin, os.Stdout, downloads)
			return run(cmd.Context(), server, retries, con)
		},
	}
	cmd.Flags().StringVarP(&server, "server", "s", fmt.Sprintf("localhost:%d", network.DefaultPort), "Relay address (host:port or ws:// URL)")
	cmd.Flags().StringVarP(&downloads, "downloads", "d", "downloads", "Directory for received images")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")
	cmd.Flags().IntVar(&retries, "retries", 3, "Connection attempts before giving up")
	return cmd
}

func run(ctx context.Context, server string, retries int, con *console) error {
	stream, err := network.DialWithRetry(ctx, server, retries)
	if err != nil {
		return err
	}

	turn := network.NewTurn()
	client := network.NewClient(stream, con, con, turn)

	if !login(ctx, client, con) {
		client.Close()
		return nil
	}
	con.printf("Logged in as %s\n", client.Username())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var runErr error
	ended := make(chan struct{})
	go func() {
		runErr = client.Run(runCtx)
		close(ended)
	}()

	menuLoop(runCtx, client, con, turn, ended)

	client.Close()
	<-ended
	if runErr != nil && !errors.Is(runErr, network.ErrConnectionClosed) {
		return runErr
	}
	return nil
}

// login asks for credentials until the relay accepts them
func login(ctx context.Context, client *network.Client, con *console) bool {
	for {
		name, ok := con.ask(ctx, "Username: ")
		if !ok {
			return false
		}
		secret, ok := con.ask(ctx, "Password: ")
		if !ok {
			return false
		}

		accepted, err := client.Login(ctx, name, secret)
		if err != nil {
			log.WithError(err).Error("Login failed")
			return false
		}
		if accepted {
			return true
		}
		con.printf("Login rejected, try again\n")
	}
}

// menuLoop reads commands until Exit, end of input, or the session ends.
// The turn is held while a command collects its arguments so relay prompts
// wait for it.
func menuLoop(ctx context.Context, client *network.Client, con *console, turn *network.Turn, ended <-chan struct{}) {
	for {
		if err := turn.Acquire(ctx); err != nil {
			return
		}
		con.printf("%s", menu)
		turn.Release()

		var (
			choice string
			ok     bool
		)
		select {
		case choice, ok = <-con.commands:
		case <-ended:
			return
		case <-ctx.Done():
			return
		}
		if !ok || strings.EqualFold(choice, "exit") {
			return
		}

		if err := turn.Acquire(ctx); err != nil {
			return
		}
		err := execute(ctx, client, con, choice)
		turn.Release()
		if err != nil {
			con.printf("%v\n", err)
		}
	}
}

func execute(ctx context.Context, client *network.Client, con *console, choice string) error {
	switch choice {
	case "1", "2":
		to, ok := pickRecipient(ctx, client, con)
		if !ok {
			return nil
		}
		if choice == "1" {
			text, ok := con.ask(ctx, "Message: ")
			if !ok {
				return nil
			}
			return client.SendText(to, text)
		}
		image, ok, err := readImage(ctx, con)
		if !ok || err != nil {
			return err
		}
		return client.SendImage(to, image)

	case "3":
		text, ok := con.ask(ctx, "Message: ")
		if !ok {
			return nil
		}
		return client.BroadcastText(text)

	case "4":
		image, ok, err := readImage(ctx, con)
		if !ok || err != nil {
			return err
		}
		return client.BroadcastImage(image)

	default:
		con.printf("Unknown option %q\n", choice)
		return nil
	}
}

// pickRecipient shows who is online and asks for one of them
func pickRecipient(ctx context.Context, client *network.Client, con *console) (string, bool) {
	rosterCtx, cancel := context.WithTimeout(ctx, rosterTimeout)
	names, err := client.RequestRoster(rosterCtx)
	cancel()
	if err != nil {
		con.printf("Could not fetch online users: %v\n", err)
		return "", false
	}
	if len(names) == 0 {
		con.printf("Nobody else is online\n")
		return "", false
	}

	con.printf("Online: %s\n", strings.Join(names, ", "))
	to, ok := con.ask(ctx, "Recipient: ")
	if !ok {
		return "", false
	}
	if !client.IsOnline(to) {
		con.printf("%s is not online\n", to)
		return "", false
	}
	return to, true
}

func readImage(ctx context.Context, con *console) ([]byte, bool, error) {
	path, ok := con.ask(ctx, "Image path: ")
	if !ok || path == "" {
		return nil, false, nil
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, false, oops.In("client").With("path", path).Wrapf(err, "read image")
	}
	return image, true, nil
}
