package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tvremote/discovery"
	"tvremote/models"
)

var (
	discoverTimeout time.Duration
	discoverMDNS    bool
	discoverWatch   bool
)

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 0, "scan window (default from config)")
	discoverCmd.Flags().BoolVar(&discoverMDNS, "mdns", false, "also browse mDNS")
	discoverCmd.Flags().BoolVar(&discoverWatch, "watch", false, "keep scanning and print changes")
	rootCmd.AddCommand(discoverCmd)
}

var discoverCmd = &cobra.Command{
	Use:     "discover",
	Aliases: []string{"scan"},
	Short:   "Find televisions on the local network",
	Args:    cobra.NoArgs,
	RunE:    runDiscover,
}

func runDiscover(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.discoveryConfig()
	if discoverTimeout > 0 {
		cfg.ScanTimeout = discoverTimeout
	}
	if discoverMDNS {
		cfg.EnableMDNS = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if discoverWatch {
		return watchDevices(ctx, cfg)
	}

	devices, err := discovery.Discover(ctx, cfg)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No televisions found.")
		return nil
	}
	return printDevices(a, devices)
}

func printDevices(a *app, devices []models.Device) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tPAIRED")
	for _, device := range devices {
		paired := "no"
		if a.trust.IsTrusted(device.Name) {
			paired = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", device.Name, device.CommandAddress(), paired)
	}
	return w.Flush()
}

func watchDevices(ctx context.Context, cfg discovery.Config) error {
	scanner := discovery.NewScanner(cfg)
	scanner.Start()
	defer scanner.Stop()

	for {
		select {
		case event, ok := <-scanner.Events():
			if !ok {
				return nil
			}
			switch event.Type {
			case discovery.EventDeviceUpserted:
				fmt.Printf("+ %s\n", event.Device)
			case discovery.EventDeviceRemoved:
				fmt.Printf("- %s\n", event.Device)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
