package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tvremote/crypto"
)

var pairTarget targetFlags

func init() {
	pairTarget.register(pairCmd.Flags())
	rootCmd.AddCommand(pairCmd)
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair with a television and verify the command channel",
	Args:  cobra.NoArgs,
	RunE:  runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, session, err := connect(ctx, a, &pairTarget)
	if err != nil {
		return err
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn.Close(closeCtx, session)

	device := session.Device()
	fmt.Printf("Paired with %s\n", device)
	peers, err := a.trust.TrustedPeers()
	if err != nil {
		return err
	}
	for _, peer := range peers {
		if peer.DeviceName == device.Name {
			fmt.Printf("Alias:        %s\n", peer.Alias)
			fmt.Printf("Fingerprint:  %s\n", crypto.FormatFingerprint(peer.Fingerprint))
		}
	}
	return nil
}
