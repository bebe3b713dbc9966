package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DedupRecord is the receipt of one inbound platform message.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserToken   string     `json:"user_token"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// DedupRepo remembers inbound message ids so a redelivered message is
// dispatched once.
type DedupRepo interface {
	// RecordInbound stores messageID and reports whether it was new.
	RecordInbound(ctx context.Context, messageID, userToken string) (bool, error)
	// MarkProcessed stamps the record once dispatch finished.
	MarkProcessed(ctx context.Context, messageID string) error
	// PruneInbound drops records received before cutoff.
	PruneInbound(ctx context.Context, cutoff time.Time) (int, error)
}

var (
	_ DedupRepo = (*SQLiteStore)(nil)
	_ DedupRepo = (*PostgresStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// RecordInbound relies on the primary key, so two deliveries racing each
// other still produce exactly one "new".
func (s *sqlStore) RecordInbound(ctx context.Context, messageID, userToken string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO inbound_dedup (message_id, user_token, received_at) VALUES (?, ?, ?) ON CONFLICT (message_id) DO NOTHING`),
		messageID, userToken, time.Now().UTC())
	if err != nil {
		slog.Error("sqlStore.RecordInbound failed", "driver", s.dialect.name, "message_id", messageID, "error", err)
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) MarkProcessed(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`), time.Now().UTC(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *sqlStore) PruneInbound(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM inbound_dedup WHERE received_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, userToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, UserToken: userToken, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}

func (s *InMemoryStore) PruneInbound(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

// InboundRecord returns the stored receipt for messageID. Test helper.
func (s *InMemoryStore) InboundRecord(messageID string) (DedupRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.inbound[messageID]
	return rec, ok
}
