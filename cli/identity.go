package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tvremote/crypto"
	"tvremote/storage"
)

func init() {
	rootCmd.AddCommand(identityCmd)
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show this remote's identity and storage locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id := a.trust.Identity()
		count, err := a.db.CountEntries(storage.EntryTypeTrustedCertificate)
		if err != nil {
			return err
		}

		fmt.Printf("Client Name:     %s\n", a.cfg.ClientName)
		fmt.Printf("Install ID:      %s\n", a.cfg.InstallID)
		fmt.Printf("Certificate:     %s\n", id.Certificate.Subject.CommonName)
		fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(crypto.CertificateFingerprint(id.Certificate.Raw)))
		fmt.Printf("Valid Until:     %s\n", id.Certificate.NotAfter.Format("2006-01-02"))
		fmt.Printf("Paired TVs:      %d\n", count)
		fmt.Printf("Config File:     %s\n", a.cfgPath)
		fmt.Printf("Data Directory:  %s\n", a.dataDir)
		fmt.Printf("Keystore File:   %s\n", a.dbPath)
		return nil
	},
}
