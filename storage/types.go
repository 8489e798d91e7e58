package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// EntryTypeIdentity marks the local private key plus certificate entry.
	EntryTypeIdentity = "identity"
	// EntryTypeTrustedCertificate marks a paired television certificate.
	EntryTypeTrustedCertificate = "trusted_certificate"
)

const (
	// SecuritySeverityInfo indicates informational security event context.
	SecuritySeverityInfo = "info"
	// SecuritySeverityWarning indicates potentially suspicious behavior.
	SecuritySeverityWarning = "warning"
	// SecuritySeverityCritical indicates serious security failures.
	SecuritySeverityCritical = "critical"
)

// Security event types recorded by the trust and connection layers.
const (
	EventIdentityCreated     = "identity_created"
	EventIdentityRegenerated = "identity_regenerated"
	EventPeerTrusted         = "peer_trusted"
	EventPeerForgotten       = "peer_forgotten"
	EventKeystoreReset       = "keystore_reset"
	EventPairingFailed       = "pairing_failed"
	EventHandshakeRejected   = "handshake_rejected"
)

// KeystoreEntry is one aliased row of the keystore container.
type KeystoreEntry struct {
	Alias            string
	EntryType        string
	DeviceName       string
	Certificate      []byte
	SealedKey        []byte
	Fingerprint      string
	CreatedTimestamp int64
}

// SecurityEvent is one pairing, handshake or trust change worth keeping.
type SecurityEvent struct {
	ID        int64
	EventType string
	// DeviceName is empty for events not tied to a television.
	DeviceName string
	Severity   string
	Details    map[string]any
	OccurredAt time.Time
}

// SecurityEventFilter narrows SecurityEvents results. Zero fields match everything.
type SecurityEventFilter struct {
	DeviceName  string
	EventTypes  []string
	MinSeverity string
	Since       time.Time
	Limit       int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateEntryType(entryType string) error {
	switch entryType {
	case EntryTypeIdentity, EntryTypeTrustedCertificate:
		return nil
	default:
		return fmt.Errorf("invalid keystore entry type %q", entryType)
	}
}

func validateSecuritySeverity(severity string) error {
	switch severity {
	case SecuritySeverityInfo, SecuritySeverityWarning, SecuritySeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid security event severity %q", severity)
	}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
