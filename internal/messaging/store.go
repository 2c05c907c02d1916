package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

// Store handles conversation and message database operations.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const conversationColumns = `c.id, c.landlord_id, c.tenant_id, c.property_id, c.subject, c.last_message_at, c.created_at,
	(SELECT count(*) FROM messages m
	 WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL)`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.LandlordID, &c.TenantID, &c.PropertyID, &c.Subject, &c.LastMessageAt,
		&c.CreatedAt, &c.UnreadCount)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Start returns the conversation between userID and in.ParticipantID about
// in.PropertyID, creating it when none exists. One side must be a landlord
// and the other a tenant. created reports whether a row was inserted.
func (s *Store) Start(ctx context.Context, q database.Querier, userID, userRole string, in StartInput) (*Conversation, bool, error) {
	if in.ParticipantID == userID {
		return nil, false, fmt.Errorf("%w: cannot message yourself", ErrInvalidConversation)
	}

	var otherRole string
	err := q.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, in.ParticipantID).Scan(&otherRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrParticipantNotFound
		}
		return nil, false, fmt.Errorf("looking up participant: %w", err)
	}

	var landlordID, tenantID string
	switch {
	case userRole == auth.RoleLandlord && otherRole == auth.RoleTenant:
		landlordID, tenantID = userID, in.ParticipantID
	case userRole == auth.RoleTenant && otherRole == auth.RoleLandlord:
		landlordID, tenantID = in.ParticipantID, userID
	default:
		return nil, false, fmt.Errorf("%w: conversations are between a landlord and a tenant", ErrParticipantNotFound)
	}

	if in.PropertyID != nil {
		var exists bool
		err := q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM properties WHERE id = $1 AND landlord_id = $2)`,
			*in.PropertyID, landlordID,
		).Scan(&exists)
		if err != nil {
			return nil, false, fmt.Errorf("checking property: %w", err)
		}
		if !exists {
			return nil, false, ErrPropertyNotFound
		}
	}

	var id string
	err = q.QueryRow(ctx,
		`INSERT INTO conversations (landlord_id, tenant_id, property_id, subject)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT ON CONSTRAINT conversations_participants_key DO NOTHING
		 RETURNING id`,
		landlordID, tenantID, in.PropertyID, in.Subject,
	).Scan(&id)
	created := err == nil
	if errors.Is(err, pgx.ErrNoRows) {
		err = q.QueryRow(ctx,
			`SELECT id FROM conversations
			 WHERE landlord_id = $1 AND tenant_id = $2 AND property_id IS NOT DISTINCT FROM $3::uuid`,
			landlordID, tenantID, in.PropertyID,
		).Scan(&id)
	}
	if err != nil {
		return nil, false, fmt.Errorf("starting conversation: %w", err)
	}

	c, err := s.Get(ctx, q, userID, id)
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

// Get returns a conversation userID participates in.
func (s *Store) Get(ctx context.Context, q database.Querier, userID, id string) (*Conversation, error) {
	c, err := scanConversation(q.QueryRow(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations c
		 WHERE c.id = $2 AND (c.landlord_id = $1 OR c.tenant_id = $1)`,
		userID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return c, nil
}

// List returns userID's conversations, most recently active first.
func (s *Store) List(ctx context.Context, q database.Querier, userID string) ([]Conversation, error) {
	rows, err := q.Query(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations c
		 WHERE c.landlord_id = $1 OR c.tenant_id = $1
		 ORDER BY COALESCE(c.last_message_at, c.created_at) DESC, c.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, *c)
	}
	return conversations, rows.Err()
}

// Send appends a message from senderID and returns it with its
// conversation. Run it in a transaction.
func (s *Store) Send(ctx context.Context, q database.Querier, senderID, conversationID, body string) (*Message, *Conversation, error) {
	c, err := s.Get(ctx, q, senderID, conversationID)
	if err != nil {
		return nil, nil, err
	}

	m := Message{ConversationID: conversationID, SenderID: senderID, Body: body}
	err = q.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_id, body)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		conversationID, senderID, body,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("sending message: %w", err)
	}

	if _, err := q.Exec(ctx,
		`UPDATE conversations SET last_message_at = $2 WHERE id = $1`, conversationID, m.CreatedAt,
	); err != nil {
		return nil, nil, fmt.Errorf("touching conversation: %w", err)
	}
	c.LastMessageAt = &m.CreatedAt
	return &m, c, nil
}

// Messages returns up to limit messages older than the before message, or
// the latest ones when before is empty. The page is in chronological order.
func (s *Store) Messages(ctx context.Context, q database.Querier, userID, conversationID, before string, limit int) ([]Message, error) {
	if _, err := s.Get(ctx, q, userID, conversationID); err != nil {
		return nil, err
	}
	if before != "" {
		if err := s.messageExists(ctx, q, conversationID, before); err != nil {
			return nil, err
		}
	}

	rows, err := q.Query(ctx,
		`SELECT id, conversation_id, sender_id, body, read_at, created_at
		 FROM messages
		 WHERE conversation_id = $1
		   AND ($2 = '' OR (created_at, id) < (
		       SELECT created_at, id FROM messages WHERE id = NULLIF($2, '')::uuid))
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		conversationID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// MarkRead marks the messages userID received in a conversation up to and
// including upToID as read. It returns the conversation and how many
// messages changed.
func (s *Store) MarkRead(ctx context.Context, q database.Querier, userID, conversationID, upToID string) (*Conversation, int64, error) {
	c, err := s.Get(ctx, q, userID, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.messageExists(ctx, q, conversationID, upToID); err != nil {
		return nil, 0, err
	}

	tag, err := q.Exec(ctx,
		`UPDATE messages SET read_at = now()
		 WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
		   AND (created_at, id) <= (SELECT created_at, id FROM messages WHERE id = $3)`,
		conversationID, userID, upToID,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("marking messages read: %w", err)
	}
	return c, tag.RowsAffected(), nil
}

func (s *Store) messageExists(ctx context.Context, q database.Querier, conversationID, id string) error {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2)`, id, conversationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("looking up message: %w", err)
	}
	if !exists {
		return ErrMessageNotFound
	}
	return nil
}
