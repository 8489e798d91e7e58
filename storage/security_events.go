package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultSecurityEventLimit = 50
	maxSecurityEventLimit     = 500
)

// severityOrder ranks severities for MinSeverity filtering.
var severityOrder = []string{SecuritySeverityInfo, SecuritySeverityWarning, SecuritySeverityCritical}

// SetSecurityEventRetention sets how long events are kept. Zero restores the
// default and a negative value disables pruning.
func (s *Store) SetSecurityEventRetention(retention time.Duration) {
	if retention == 0 {
		retention = DefaultSecurityEventRetention
	}
	s.securityEventRetention = retention
}

// AppendSecurityEvent stores event, then drops rows older than the retention window.
func (s *Store) AppendSecurityEvent(event SecurityEvent) (int64, error) {
	event.EventType = strings.TrimSpace(event.EventType)
	if event.EventType == "" {
		return 0, errors.New("storage: security event type is required")
	}
	if event.Severity == "" {
		event.Severity = SecuritySeverityInfo
	}
	if err := validateSecuritySeverity(event.Severity); err != nil {
		return 0, err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	details := []byte("{}")
	if len(event.Details) > 0 {
		encoded, err := json.Marshal(event.Details)
		if err != nil {
			return 0, fmt.Errorf("encode %s details: %w", event.EventType, err)
		}
		details = encoded
	}

	var deviceName sql.NullString
	if name := strings.TrimSpace(event.DeviceName); name != "" {
		deviceName = sql.NullString{String: name, Valid: true}
	}

	res, err := s.db.Exec(
		`INSERT INTO security_events (event_type, device_name, details, severity, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		event.EventType,
		deviceName,
		string(details),
		event.Severity,
		event.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert security event %q: %w", event.EventType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read security event id: %w", err)
	}

	if s.securityEventRetention > 0 {
		if _, err := s.PruneSecurityEvents(time.Now().Add(-s.securityEventRetention)); err != nil {
			return id, err
		}
	}
	return id, nil
}

// SecurityEvents returns matching events, newest first.
func (s *Store) SecurityEvents(filter SecurityEventFilter) ([]SecurityEvent, error) {
	var (
		where []string
		args  []any
	)

	if filter.DeviceName != "" {
		where = append(where, "device_name = ?")
		args = append(args, filter.DeviceName)
	}
	if len(filter.EventTypes) > 0 {
		where = append(where, "event_type IN ("+placeholders(len(filter.EventTypes))+")")
		for _, eventType := range filter.EventTypes {
			args = append(args, eventType)
		}
	}
	if filter.MinSeverity != "" {
		severities, err := severitiesFrom(filter.MinSeverity)
		if err != nil {
			return nil, err
		}
		where = append(where, "severity IN ("+placeholders(len(severities))+")")
		for _, severity := range severities {
			args = append(args, severity)
		}
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSecurityEventLimit
	}
	if limit > maxSecurityEventLimit {
		limit = maxSecurityEventLimit
	}

	query := `SELECT id, event_type, device_name, details, severity, timestamp FROM security_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// PruneSecurityEvents deletes events that occurred before cutoff.
func (s *Store) PruneSecurityEvents(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM security_events WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune security events: %w", err)
	}
	return res.RowsAffected()
}

func scanSecurityEvent(row scanner) (SecurityEvent, error) {
	var (
		event      SecurityEvent
		deviceName sql.NullString
		details    string
		occurredAt int64
	)
	if err := row.Scan(&event.ID, &event.EventType, &deviceName, &details, &event.Severity, &occurredAt); err != nil {
		return SecurityEvent{}, err
	}

	event.DeviceName = deviceName.String
	event.OccurredAt = time.UnixMilli(occurredAt)
	if err := json.Unmarshal([]byte(details), &event.Details); err != nil {
		event.Details = map[string]any{"raw": details}
	}
	return event, nil
}

func severitiesFrom(minimum string) ([]string, error) {
	for i, severity := range severityOrder {
		if severity == minimum {
			return severityOrder[i:], nil
		}
	}
	return nil, fmt.Errorf("invalid security event severity %q", minimum)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
