package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tvremote/remote"
)

const sendFlushTimeout = 5 * time.Second

var (
	sendTarget  targetFlags
	sendAsKeys  bool
	sendKeyHold string
)

func init() {
	sendTarget.register(sendCmd.PersistentFlags())

	sendKeyCmd.Flags().StringVar(&sendKeyHold, "action", "", "send only a key transition: down or up")
	sendTextCmd.Flags().BoolVar(&sendAsKeys, "keys", false, "type the text as key presses instead of a string payload")

	sendCmd.AddCommand(sendKeyCmd, sendTextCmd, sendURLCmd, sendMoveCmd, sendScrollCmd, sendClickCmd)
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one command to a television",
}

var sendKeyCmd = &cobra.Command{
	Use:   "key KEY...",
	Short: "Press keys (e.g. HOME, DPAD_UP, VOLUME_DOWN, 5)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		commands, err := keyCommands(args, sendKeyHold)
		if err != nil {
			return err
		}
		return sendCommands(commands...)
	},
}

var sendTextCmd = &cobra.Command{
	Use:   "text TEXT...",
	Short: "Send text to the focused input field",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if sendAsKeys {
			commands, err := remote.KeyPressesForText(text)
			if err != nil {
				return err
			}
			return sendCommands(commands...)
		}
		return sendCommands(remote.Data{Type: remote.DataTypeString, Payload: text})
	},
}

var sendURLCmd = &cobra.Command{
	Use:   "url URI",
	Short: "Open a URL or intent on the television",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommands(remote.Fling{URI: args[0]})
	},
}

var sendMoveCmd = &cobra.Command{
	Use:   "move DX DY",
	Short: "Move the pointer by a relative offset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dx, dy, err := parseDelta(args)
		if err != nil {
			return err
		}
		return sendCommands(remote.MouseMove{DeltaX: dx, DeltaY: dy})
	},
}

var sendScrollCmd = &cobra.Command{
	Use:   "scroll DX DY",
	Short: "Turn the scroll wheel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dx, dy, err := parseDelta(args)
		if err != nil {
			return err
		}
		return sendCommands(remote.MouseWheel{DeltaX: dx, DeltaY: dy})
	},
}

var sendClickCmd = &cobra.Command{
	Use:   "click",
	Short: "Click the pointer button",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommands(remote.Click{Action: remote.ActionDown}, remote.Click{Action: remote.ActionUp})
	},
}

func sendCommands(commands ...remote.Command) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, session, err := connect(ctx, a, &sendTarget)
	if err != nil {
		return err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), sendFlushTimeout)
	defer cancel()
	defer conn.Close(closeCtx, session)

	for _, command := range commands {
		if err := session.Send(command); err != nil {
			return err
		}
	}
	return session.Flush(closeCtx)
}

// keyCommands maps key names to presses, or to single transitions when action is set.
func keyCommands(names []string, action string) ([]remote.Command, error) {
	commands := make([]remote.Command, 0, len(names))
	for _, name := range names {
		code, err := remote.ParseKeycode(name)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(action) {
		case "":
			commands = append(commands, remote.KeyPress{Code: code})
		case "down":
			commands = append(commands, remote.KeyEvent{Code: code, Action: remote.ActionDown})
		case "up":
			commands = append(commands, remote.KeyEvent{Code: code, Action: remote.ActionUp})
		default:
			return nil, fmt.Errorf("invalid key action %q", action)
		}
	}
	return commands, nil
}

func parseDelta(args []string) (int32, int32, error) {
	dx, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid DX %q", args[0])
	}
	dy, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid DY %q", args[1])
	}
	return int32(dx), int32(dy), nil
}
