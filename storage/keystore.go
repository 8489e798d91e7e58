package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PutEntry inserts or replaces a keystore entry by alias.
func (s *Store) PutEntry(entry KeystoreEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.CreatedTimestamp == 0 {
		entry.CreatedTimestamp = nowUnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO keystore_entries (
			alias,
			entry_type,
			device_name,
			certificate,
			sealed_key,
			fingerprint,
			created_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Alias,
		entry.EntryType,
		entry.DeviceName,
		entry.Certificate,
		entry.SealedKey,
		entry.Fingerprint,
		entry.CreatedTimestamp,
	)
	if err != nil {
		return fmt.Errorf("put keystore entry %q: %w", entry.Alias, err)
	}
	return nil
}

// ReplaceTrustedCertificate deletes any entry under the alias and inserts the
// new trusted certificate in one transaction.
func (s *Store) ReplaceTrustedCertificate(entry KeystoreEntry) error {
	entry.EntryType = EntryTypeTrustedCertificate
	entry.SealedKey = nil
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.CreatedTimestamp == 0 {
		entry.CreatedTimestamp = nowUnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin trusted certificate transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM keystore_entries WHERE alias = ?`, entry.Alias); err != nil {
		return fmt.Errorf("delete existing alias %q: %w", entry.Alias, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO keystore_entries (
			alias,
			entry_type,
			device_name,
			certificate,
			sealed_key,
			fingerprint,
			created_timestamp
		) VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		entry.Alias,
		entry.EntryType,
		entry.DeviceName,
		entry.Certificate,
		entry.Fingerprint,
		entry.CreatedTimestamp,
	); err != nil {
		return fmt.Errorf("insert trusted certificate %q: %w", entry.Alias, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trusted certificate transaction: %w", err)
	}
	return nil
}

// GetEntry returns a keystore entry by alias.
func (s *Store) GetEntry(alias string) (*KeystoreEntry, error) {
	row := s.db.QueryRow(
		`SELECT
			alias,
			entry_type,
			device_name,
			certificate,
			sealed_key,
			fingerprint,
			created_timestamp
		FROM keystore_entries
		WHERE alias = ?`,
		alias,
	)

	entry, err := scanKeystoreEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get keystore entry %q: %w", alias, err)
	}
	return entry, nil
}

// ListEntries returns entries of the given type, newest first. An empty type
// lists everything.
func (s *Store) ListEntries(entryType string) ([]KeystoreEntry, error) {
	query := `SELECT
		alias,
		entry_type,
		device_name,
		certificate,
		sealed_key,
		fingerprint,
		created_timestamp
	FROM keystore_entries`
	args := make([]any, 0, 1)
	if entryType != "" {
		if err := validateEntryType(entryType); err != nil {
			return nil, err
		}
		query += " WHERE entry_type = ?"
		args = append(args, entryType)
	}
	query += " ORDER BY created_timestamp DESC, alias ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list keystore entries: %w", err)
	}
	defer rows.Close()

	entries := make([]KeystoreEntry, 0)
	for rows.Next() {
		entry, err := scanKeystoreEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan keystore entry row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keystore entry rows: %w", err)
	}
	return entries, nil
}

// HasTrustedDevice reports whether any trusted certificate is recorded for deviceName.
func (s *Store) HasTrustedDevice(deviceName string) (bool, error) {
	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(1) FROM keystore_entries WHERE entry_type = ? AND device_name = ?`,
		EntryTypeTrustedCertificate,
		deviceName,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check trusted device %q: %w", deviceName, err)
	}
	return count > 0, nil
}

// DeleteEntry removes an entry by alias.
func (s *Store) DeleteEntry(alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM keystore_entries WHERE alias = ?`, alias)
	if err != nil {
		return fmt.Errorf("delete keystore entry %q: %w", alias, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for keystore delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTrustedDevice removes every trusted certificate recorded for deviceName.
func (s *Store) DeleteTrustedDevice(deviceName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM keystore_entries WHERE entry_type = ? AND device_name = ?`,
		EntryTypeTrustedCertificate,
		deviceName,
	)
	if err != nil {
		return 0, fmt.Errorf("delete trusted device %q: %w", deviceName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for trusted device delete: %w", err)
	}
	return affected, nil
}

// ClearKeystore removes every keystore entry.
func (s *Store) ClearKeystore() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM keystore_entries`); err != nil {
		return fmt.Errorf("clear keystore: %w", err)
	}
	return nil
}

// CountEntries returns the number of entries of the given type.
func (s *Store) CountEntries(entryType string) (int, error) {
	var count int
	if err := s.db.QueryRow(
		`SELECT COUNT(1) FROM keystore_entries WHERE entry_type = ?`,
		entryType,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count keystore entries: %w", err)
	}
	return count, nil
}

func validateEntry(entry KeystoreEntry) error {
	if strings.TrimSpace(entry.Alias) == "" {
		return errors.New("alias is required")
	}
	if err := validateEntryType(entry.EntryType); err != nil {
		return err
	}
	if len(entry.Certificate) == 0 {
		return errors.New("certificate is required")
	}
	if entry.EntryType == EntryTypeIdentity && len(entry.SealedKey) == 0 {
		return errors.New("identity entry requires a sealed key")
	}
	return nil
}

func scanKeystoreEntry(row scanner) (*KeystoreEntry, error) {
	var entry KeystoreEntry
	if err := row.Scan(
		&entry.Alias,
		&entry.EntryType,
		&entry.DeviceName,
		&entry.Certificate,
		&entry.SealedKey,
		&entry.Fingerprint,
		&entry.CreatedTimestamp,
	); err != nil {
		return nil, err
	}
	return &entry, nil
}
