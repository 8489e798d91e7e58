package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tvremote/emulator"
	"tvremote/network"
	"tvremote/remote"
)

var (
	emulateName      string
	emulateHost      string
	emulatePort      int
	emulateDiscovery string
	emulateMDNS      bool
	emulateFormat    string
)

func init() {
	emulateCmd.Flags().StringVar(&emulateName, "name", emulator.DefaultName, "advertised television name")
	emulateCmd.Flags().StringVar(&emulateHost, "host", "0.0.0.0", "interface to listen on")
	emulateCmd.Flags().IntVar(&emulatePort, "port", 9551, "command port; pairing uses port+1 (0 picks free ports)")
	emulateCmd.Flags().StringVar(&emulateDiscovery, "discovery", ":9101", "UDP address answering discovery probes (empty disables)")
	emulateCmd.Flags().BoolVar(&emulateMDNS, "mdns", false, "advertise via mDNS")
	emulateCmd.Flags().StringVar(&emulateFormat, "wire-format", "json", "pairing wire format: json or cbor")
	rootCmd.AddCommand(emulateCmd)
}

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run a software television for testing",
	Args:  cobra.NoArgs,
	RunE:  runEmulate,
}

func runEmulate(cmd *cobra.Command, args []string) error {
	tv, err := emulator.Start(emulator.Options{
		Name:             emulateName,
		Host:             emulateHost,
		Port:             emulatePort,
		PairingCodec:     network.CodecFor(emulateFormat),
		DiscoveryAddress: emulateDiscovery,
		EnableMDNS:       emulateMDNS,
		ShowSecret: func(code string) {
			fmt.Printf("Pairing code: %s\n", code)
		},
		OnRequest: func(clientName string, request network.Request) {
			logRequest(clientName, request)
		},
	})
	if err != nil {
		return err
	}
	defer tv.Close()

	fmt.Printf("Emulating %s\n", tv.Device())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

func logRequest(clientName string, request network.Request) {
	if request.Kind == network.RequestPing {
		log.Debug().Str("client", clientName).Uint32("seq", request.Sequence).Msg("ping")
		return
	}

	event := log.Info().Str("client", clientName).Uint32("seq", request.Sequence).Str("kind", request.Kind)
	switch request.Kind {
	case network.RequestKeyEvent:
		event = event.Stringer("key", remote.Keycode(request.Keycode)).Stringer("action", remote.KeyAction(request.Action))
	case network.RequestMouseMove, network.RequestMouseWheel:
		event = event.Int32("dx", request.DeltaX).Int32("dy", request.DeltaY)
	case network.RequestData:
		event = event.Str("type", request.DataType).Str("data", request.Data)
	case network.RequestFling:
		event = event.Str("uri", request.URI)
	case network.RequestConnect:
		event = event.Str("device_name", request.DeviceName).Int32("version", request.VersionCode)
	}
	event.Msg("command received")
}
