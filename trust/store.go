// Package trust owns the local remote-control identity and the set of
// television certificates the user has paired with.
package trust

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"tvremote/crypto"
	"tvremote/storage"
)

const (
	// IdentityAlias is the keystore alias of the local identity entry.
	IdentityAlias = "tvremote-remote"

	// keystorePassphrase seals the private key at rest.
	keystorePassphrase = "1234567890"
)

// SecurityInitError reports that no usable identity could be produced.
type SecurityInitError struct {
	Err error
}

func (e *SecurityInitError) Error() string {
	return "trust: security initialization failed: " + e.Err.Error()
}

func (e *SecurityInitError) Unwrap() error {
	return e.Err
}

// TrustedPeer is one paired television certificate.
type TrustedPeer struct {
	Alias       string
	DeviceName  string
	Fingerprint string
	Certificate *x509.Certificate
	AddedAt     int64
}

// Options configures a Store.
type Options struct {
	// CommonName is the certificate subject for a freshly generated identity.
	CommonName string
	// SealWorkFactor overrides the scrypt work factor; tests lower it.
	SealWorkFactor int
}

func (o Options) withDefaults() Options {
	if o.CommonName == "" {
		o.CommonName = crypto.CertificateName("", "local")
	}
	if o.SealWorkFactor <= 0 {
		o.SealWorkFactor = crypto.DefaultSealWorkFactor
	}
	return o
}

// Store is the process-wide trust store.
type Store struct {
	db   *storage.Store
	opts Options

	mu       sync.RWMutex
	identity *crypto.Identity
	pool     *x509.CertPool
}

// Open wraps a keystore database. Call EnsureIdentity before using key material.
func Open(db *storage.Store, opts Options) *Store {
	return &Store{
		db:   db,
		opts: opts.withDefaults(),
		pool: x509.NewCertPool(),
	}
}

// EnsureIdentity loads the local identity, regenerating it when missing or unreadable.
func (s *Store) EnsureIdentity() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, err := s.loadIdentity()
	switch {
	case err == nil:
		s.identity = identity
		return s.rebuildPoolLocked()
	case errors.Is(err, storage.ErrNotFound):
		log.Info().Msg("no local identity found, generating one")
		if err := s.regenerateLocked(storage.EventIdentityCreated); err != nil {
			return &SecurityInitError{Err: err}
		}
		return nil
	default:
		log.Warn().Err(err).Msg("local identity unreadable, resetting keystore")
		if err := s.db.ClearKeystore(); err != nil {
			return &SecurityInitError{Err: err}
		}
		if err := s.regenerateLocked(storage.EventIdentityRegenerated); err != nil {
			return &SecurityInitError{Err: err}
		}
		return nil
	}
}

func (s *Store) loadIdentity() (*crypto.Identity, error) {
	entry, err := s.db.GetEntry(IdentityAlias)
	if err != nil {
		return nil, err
	}
	if entry.EntryType != storage.EntryTypeIdentity {
		return nil, fmt.Errorf("alias %q holds a %s entry", IdentityAlias, entry.EntryType)
	}

	key, err := crypto.OpenPrivateKey(entry.SealedKey, keystorePassphrase)
	if err != nil {
		return nil, err
	}
	return crypto.NewIdentity(key, entry.Certificate)
}

func (s *Store) regenerateLocked(eventType string) error {
	identity, err := crypto.GenerateIdentity(s.opts.CommonName)
	if err != nil {
		return err
	}

	sealed, err := crypto.SealPrivateKey(identity.PrivateKey, keystorePassphrase, s.opts.SealWorkFactor)
	if err != nil {
		return err
	}

	if err := s.db.PutEntry(storage.KeystoreEntry{
		Alias:       IdentityAlias,
		EntryType:   storage.EntryTypeIdentity,
		Certificate: identity.Certificate.Raw,
		SealedKey:   sealed,
		Fingerprint: crypto.CertificateFingerprint(identity.Certificate.Raw),
	}); err != nil {
		return fmt.Errorf("persist identity: %w", err)
	}

	s.identity = identity
	s.logEvent(eventType, "", storage.SecuritySeverityInfo, map[string]any{
		"common_name": identity.Certificate.Subject.CommonName,
	})
	return s.rebuildPoolLocked()
}

// Identity returns the loaded local identity, or nil before EnsureIdentity.
func (s *Store) Identity() *crypto.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// KeyMaterial returns the certificate presented to televisions.
func (s *Store) KeyMaterial() (tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.identity == nil {
		return tls.Certificate{}, &SecurityInitError{Err: errors.New("identity not loaded")}
	}
	return s.identity.TLSCertificate(), nil
}

// TrustMaterial returns the pool of trusted television certificates.
func (s *Store) TrustMaterial() *x509.CertPool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

// RecordTrustedPeer stores a paired television's certificate and refreshes trust material.
func (s *Store) RecordTrustedPeer(cert *x509.Certificate, deviceName string) (string, error) {
	if cert == nil {
		return "", errors.New("trust: nil certificate")
	}

	alias := crypto.CertificateAlias(cert.Raw)
	fingerprint := crypto.CertificateFingerprint(cert.Raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.ReplaceTrustedCertificate(storage.KeystoreEntry{
		Alias:       alias,
		DeviceName:  deviceName,
		Certificate: cert.Raw,
		Fingerprint: fingerprint,
	}); err != nil {
		return "", err
	}
	if err := s.rebuildPoolLocked(); err != nil {
		return "", err
	}

	log.Info().Str("alias", alias).Str("device", deviceName).Msg("recorded trusted television")
	s.logEvent(storage.EventPeerTrusted, deviceName, storage.SecuritySeverityInfo, map[string]any{
		"alias":       alias,
		"fingerprint": fingerprint,
	})
	return alias, nil
}

// IsTrusted reports whether a certificate has been recorded for deviceName.
func (s *Store) IsTrusted(deviceName string) bool {
	ok, err := s.db.HasTrustedDevice(deviceName)
	if err != nil {
		log.Warn().Err(err).Str("device", deviceName).Msg("trusted device lookup failed")
		return false
	}
	return ok
}

// TrustedPeers lists the recorded television certificates, newest first.
func (s *Store) TrustedPeers() ([]TrustedPeer, error) {
	entries, err := s.db.ListEntries(storage.EntryTypeTrustedCertificate)
	if err != nil {
		return nil, err
	}

	peers := make([]TrustedPeer, 0, len(entries))
	for _, entry := range entries {
		cert, err := x509.ParseCertificate(entry.Certificate)
		if err != nil {
			log.Warn().Err(err).Str("alias", entry.Alias).Msg("skipping unparsable trusted certificate")
			continue
		}
		peers = append(peers, TrustedPeer{
			Alias:       entry.Alias,
			DeviceName:  entry.DeviceName,
			Fingerprint: entry.Fingerprint,
			Certificate: cert,
			AddedAt:     entry.CreatedTimestamp,
		})
	}
	return peers, nil
}

// ForgetPeer removes a trusted certificate by alias.
func (s *Store) ForgetPeer(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.db.GetEntry(alias)
	if err != nil {
		return err
	}
	if entry.EntryType != storage.EntryTypeTrustedCertificate {
		return fmt.Errorf("trust: alias %q is not a trusted certificate", alias)
	}
	if err := s.db.DeleteEntry(alias); err != nil {
		return err
	}

	s.logEvent(storage.EventPeerForgotten, entry.DeviceName, storage.SecuritySeverityInfo, map[string]any{
		"alias": alias,
	})
	return s.rebuildPoolLocked()
}

// Reset wipes the keystore and generates a new identity. All pairings are lost.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.ClearKeystore(); err != nil {
		return err
	}
	s.logEvent(storage.EventKeystoreReset, "", storage.SecuritySeverityWarning, nil)
	if err := s.regenerateLocked(storage.EventIdentityCreated); err != nil {
		return &SecurityInitError{Err: err}
	}
	return nil
}

// LogSecurityEvent records a pairing or connection event against deviceName.
func (s *Store) LogSecurityEvent(eventType, deviceName, severity string, details map[string]any) {
	s.logEvent(eventType, deviceName, severity, details)
}

// SecurityEvents returns the most recent security events matching filter.
func (s *Store) SecurityEvents(filter storage.SecurityEventFilter) ([]storage.SecurityEvent, error) {
	return s.db.SecurityEvents(filter)
}

func (s *Store) rebuildPoolLocked() error {
	entries, err := s.db.ListEntries(storage.EntryTypeTrustedCertificate)
	if err != nil {
		return err
	}

	pool := x509.NewCertPool()
	for _, entry := range entries {
		cert, err := x509.ParseCertificate(entry.Certificate)
		if err != nil {
			log.Warn().Err(err).Str("alias", entry.Alias).Msg("skipping unparsable trusted certificate")
			continue
		}
		pool.AddCert(cert)
	}
	s.pool = pool
	return nil
}

func (s *Store) logEvent(eventType, deviceName, severity string, details map[string]any) {
	_, err := s.db.AppendSecurityEvent(storage.SecurityEvent{
		EventType:  eventType,
		DeviceName: deviceName,
		Severity:   severity,
		Details:    details,
	})
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Str("device", deviceName).Msg("failed to record security event")
	}
}
