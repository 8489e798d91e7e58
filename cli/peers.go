package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tvremote/crypto"
	"tvremote/storage"
)

var (
	peersEventsLimit    int
	peersEventsSeverity string
)

func init() {
	peersEventsCmd.Flags().IntVar(&peersEventsLimit, "limit", 20, "number of events to show")
	peersEventsCmd.Flags().StringVar(&peersEventsSeverity, "severity", "", "minimum severity: info, warning or critical")
	peersCmd.AddCommand(peersListCmd, peersForgetCmd, peersResetCmd, peersEventsCmd)
	rootCmd.AddCommand(peersCmd)
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Manage paired televisions",
}

var peersListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List paired televisions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		peers, err := a.trust.TrustedPeers()
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			fmt.Println("No paired televisions. Run 'tvremote pair' to get started.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tALIAS\tFINGERPRINT\tPAIRED")
		for _, peer := range peers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				peer.DeviceName,
				peer.Alias,
				crypto.FormatFingerprint(peer.Fingerprint),
				time.UnixMilli(peer.AddedAt).Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

var peersForgetCmd = &cobra.Command{
	Use:   "forget NAME|ALIAS",
	Short: "Forget a paired television",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		peers, err := a.trust.TrustedPeers()
		if err != nil {
			return err
		}

		forgotten := 0
		for _, peer := range peers {
			if peer.Alias != args[0] && !strings.EqualFold(peer.DeviceName, args[0]) {
				continue
			}
			if err := a.trust.ForgetPeer(peer.Alias); err != nil {
				return err
			}
			fmt.Printf("Forgot %s (%s)\n", peer.DeviceName, peer.Alias)
			forgotten++
		}
		if forgotten == 0 {
			return fmt.Errorf("no paired television matches %q", args[0])
		}
		return nil
	},
}

var peersResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every television and create a new identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.trust.Reset(); err != nil {
			return err
		}
		fmt.Println("Keystore reset. Televisions must be paired again.")
		return nil
	},
}

var peersEventsCmd = &cobra.Command{
	Use:   "events [NAME]",
	Short: "Show recent pairing and trust events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		filter := storage.SecurityEventFilter{
			MinSeverity: peersEventsSeverity,
			Limit:       peersEventsLimit,
		}
		if len(args) == 1 {
			filter.DeviceName = args[0]
		}
		events, err := a.trust.SecurityEvents(filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSEVERITY\tEVENT\tDEVICE\tDETAILS")
		for _, event := range events {
			device := event.DeviceName
			if device == "" {
				device = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				event.OccurredAt.Format("2006-01-02 15:04:05"),
				event.Severity,
				event.EventType,
				device,
				formatDetails(event.Details),
			)
		}
		return w.Flush()
	},
}

// formatDetails renders event details as sorted key=value pairs.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(details))
	for key := range details {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, details[key]))
	}
	return strings.Join(parts, " ")
}
