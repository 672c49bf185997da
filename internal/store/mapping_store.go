package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/chatbridge/internal/domain"
)

// SQLiteMappingStore implements mapping.Store backed by SQLite.
type SQLiteMappingStore struct {
	db *DB
}

// NewSQLiteMappingStore creates a mapping store using the given database.
func NewSQLiteMappingStore(db *DB) *SQLiteMappingStore {
	return &SQLiteMappingStore{db: db}
}

// Lookup finds the mapping containing key in the given platform's namespace.
func (s *SQLiteMappingStore) Lookup(ctx context.Context, p domain.Platform, key string) (domain.ConversationMapping, bool, error) {
	column := "crm_conversation_id"
	if p == domain.PlatformEdna {
		column = "client_conversation_id"
	}

	var m domain.ConversationMapping
	var createdAt string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT client_conversation_id, crm_conversation_id, account_subdomain, created_at
		 FROM conversation_links WHERE `+column+` = ?`, key,
	).Scan(&m.ClientConversationID, &m.CRMConversationID, &m.AccountSubdomain, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConversationMapping{}, false, nil
	}
	if err != nil {
		return domain.ConversationMapping{}, false, fmt.Errorf("querying conversation link: %w", err)
	}
	m.CreatedAt = parseTime(createdAt)
	return m, true, nil
}

// Save inserts the mapping unless either key is already linked, then returns
// the stored mapping.
func (s *SQLiteMappingStore) Save(ctx context.Context, m domain.ConversationMapping) (domain.ConversationMapping, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO conversation_links (client_conversation_id, crm_conversation_id, account_subdomain, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		m.ClientConversationID, m.CRMConversationID, m.AccountSubdomain,
		m.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return domain.ConversationMapping{}, fmt.Errorf("inserting conversation link: %w", err)
	}

	if saved, ok, err := s.Lookup(ctx, domain.PlatformEdna, m.ClientConversationID); err != nil || ok {
		return saved, err
	}
	saved, ok, err := s.Lookup(ctx, domain.PlatformAmoCRM, m.CRMConversationID)
	if err != nil {
		return domain.ConversationMapping{}, err
	}
	if !ok {
		return domain.ConversationMapping{}, fmt.Errorf("conversation link %s vanished after insert", m.ClientConversationID)
	}
	return saved, nil
}

// Count returns the number of stored conversation links.
func (s *SQLiteMappingStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_links`).Scan(&n)
	return n, err
}

// SQLiteLinkStore implements mapping.LinkStore backed by SQLite.
type SQLiteLinkStore struct {
	db *DB
}

// NewSQLiteLinkStore creates a message link store using the given database.
func NewSQLiteLinkStore(db *DB) *SQLiteLinkStore {
	return &SQLiteLinkStore{db: db}
}

// SaveLink upserts the link for its source message.
func (s *SQLiteLinkStore) SaveLink(ctx context.Context, link domain.MessageLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO message_links (source_platform, source_message_id, target_platform, target_message_id, target_conversation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_platform, source_message_id) DO UPDATE SET
		   target_platform = excluded.target_platform,
		   target_message_id = excluded.target_message_id,
		   target_conversation_id = excluded.target_conversation_id`,
		string(link.SourcePlatform), link.SourceMessageID,
		string(link.TargetPlatform), link.TargetMessageID, link.TargetConversationID,
		link.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upserting message link: %w", err)
	}
	return nil
}

// LinkBySource returns the link for a message id assigned by the source platform.
func (s *SQLiteLinkStore) LinkBySource(ctx context.Context, p domain.Platform, id string) (domain.MessageLink, bool, error) {
	var link domain.MessageLink
	var source, target, createdAt string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT source_platform, source_message_id, target_platform, target_message_id, target_conversation_id, created_at
		 FROM message_links WHERE source_platform = ? AND source_message_id = ?`,
		string(p), id,
	).Scan(&source, &link.SourceMessageID, &target, &link.TargetMessageID, &link.TargetConversationID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MessageLink{}, false, nil
	}
	if err != nil {
		return domain.MessageLink{}, false, fmt.Errorf("querying message link: %w", err)
	}
	link.SourcePlatform = domain.Platform(source)
	link.TargetPlatform = domain.Platform(target)
	link.CreatedAt = parseTime(createdAt)
	return link, true, nil
}
