package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tvremote/remote"
)

var shellTarget targetFlags

func init() {
	shellTarget.register(shellCmd.Flags())
	rootCmd.AddCommand(shellCmd)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive remote control session",
	Long: `Opens a session and reads one command per line:

  key NAME...      press keys         down NAME / up NAME   single transitions
  text TEXT        send a string      type TEXT             type as key presses
  url URI          open a URL         move DX DY            move the pointer
  scroll DX DY     scroll             click                 click the pointer
  keys             list key names     quit                  close the session`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

var errQuit = errors.New("quit")

func runShell(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, session, err := connect(ctx, a, &shellTarget)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background(), session)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	lines := make(chan string)
	go readLines(os.Stdin, lines)

	fmt.Printf("Connected to %s. Type 'quit' to exit.\n", session.Device())
	for {
		if interactive {
			fmt.Print("> ")
		}

		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := runShellLine(session, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		case <-conn.disconnected:
			return errors.New("connection to the television was lost")
		case <-ctx.Done():
			return nil
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func runShellLine(session *remote.Session, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb, rest := strings.ToLower(fields[0]), fields[1:]
	restText := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch verb {
	case "quit", "exit":
		return errQuit
	case "keys":
		fmt.Println(strings.Join(remote.KeyNames(), " "))
		return nil
	case "key", "down", "up":
		if len(rest) == 0 {
			return fmt.Errorf("usage: %s NAME", verb)
		}
		action := ""
		if verb != "key" {
			action = verb
		}
		commands, err := keyCommands(rest, action)
		if err != nil {
			return err
		}
		return sendAll(session, commands)
	case "text":
		return session.SendText(restText)
	case "type":
		commands, err := remote.KeyPressesForText(restText)
		if err != nil {
			return err
		}
		return sendAll(session, commands)
	case "url":
		if len(rest) != 1 {
			return errors.New("usage: url URI")
		}
		return session.SendURL(rest[0])
	case "move", "scroll":
		if len(rest) != 2 {
			return fmt.Errorf("usage: %s DX DY", verb)
		}
		dx, dy, err := parseDelta(rest)
		if err != nil {
			return err
		}
		if verb == "move" {
			return session.MoveRelative(dx, dy)
		}
		return session.Scroll(dx, dy)
	case "click":
		if err := session.Click(remote.ActionDown); err != nil {
			return err
		}
		return session.Click(remote.ActionUp)
	default:
		// A bare key name is a press.
		commands, err := keyCommands(fields, "")
		if err != nil {
			return fmt.Errorf("unknown command %q", fields[0])
		}
		return sendAll(session, commands)
	}
}

func sendAll(session *remote.Session, commands []remote.Command) error {
	for _, command := range commands {
		if err := session.Send(command); err != nil {
			return err
		}
	}
	return nil
}
