package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustPutTrusted(t *testing.T, store *Store, alias, deviceName string, cert []byte) {
	t.Helper()

	err := store.ReplaceTrustedCertificate(KeystoreEntry{
		Alias:       alias,
		DeviceName:  deviceName,
		Certificate: cert,
		Fingerprint: "fingerprint-" + alias,
	})
	if err != nil {
		t.Fatalf("put trusted %q: %v", alias, err)
	}
}
