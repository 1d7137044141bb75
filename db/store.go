package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record kinds for processed messages.
const (
	KindQuestionAnswered = "question-answered"
	KindPassthrough      = "passthrough"
	KindRegular          = "regular"
)

// ProcessedMessage is the audit/dedup record created exactly once per
// distinct (character id, message text) pair the bridge has handled. Rows
// are never updated after creation.
type ProcessedMessage struct {
	ID            string    `json:"id"`
	CharacterID   string    `json:"character_id"`
	CharacterName string    `json:"character_name"`
	OriginalText  string    `json:"original_text"`
	Question      string    `json:"question,omitempty"`
	Answer        string    `json:"answer,omitempty"`
	Kind          string    `json:"kind"`
	CreatedAt     time.Time `json:"created_at"`
}

// Selection is a character/room pair subject to automatic polling. An empty
// RoomID means the character's default (direct) chat context.
type Selection struct {
	CharacterID   string `json:"character_id"`
	RoomID        string `json:"room_id"`
	CharacterName string `json:"character_name"`
	RoomName      string `json:"room_name"`
}

// Store wraps the database for processed-message and selection access. It
// also fans out inserts to in-process subscribers for the live record feed.
type Store struct {
	DB *sql.DB

	mu   sync.Mutex
	subs map[chan ProcessedMessage]struct{}
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, subs: make(map[chan ProcessedMessage]struct{})}
}

// InsertProcessed inserts a record under the dedup key, reporting whether a
// row was actually written. A conflicting existing row is not an error; the
// insert is simply a no-op and inserted is false.
func (s *Store) InsertProcessed(ctx context.Context, rec ProcessedMessage) (inserted bool, err error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO processed_messages (id, character_id, character_name, original_text, question, answer, kind, created_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8)
		ON CONFLICT (character_id, original_text) DO NOTHING`,
		rec.ID, rec.CharacterID, rec.CharacterName, rec.OriginalText, rec.Question, rec.Answer, rec.Kind, rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert processed message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	s.broadcast(rec)
	return true, nil
}

// ExistsByCharacterAndText reports whether the dedup key has been handled.
func (s *Store) ExistsByCharacterAndText(ctx context.Context, characterID, text string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM processed_messages WHERE character_id=$1 AND original_text=$2`, characterID, text).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return true, nil
}

// ListRecent returns the newest records first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ProcessedMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, character_id, COALESCE(character_name,''), original_text, COALESCE(question,''), COALESCE(answer,''), kind, created_at
		FROM processed_messages ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ProcessedMessage, 0, limit)
	for rows.Next() {
		var m ProcessedMessage
		if err := rows.Scan(&m.ID, &m.CharacterID, &m.CharacterName, &m.OriginalText, &m.Question, &m.Answer, &m.Kind, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Subscribe returns a channel that receives records inserted after the call,
// plus a cancel func that detaches the subscriber. The stream is infinite
// and not restartable; slow consumers drop records rather than block the
// poll loop.
func (s *Store) Subscribe() (<-chan ProcessedMessage, func()) {
	ch := make(chan ProcessedMessage, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Store) broadcast(rec ProcessedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// AddSelection registers a character/room pair for polling (idempotent).
func (s *Store) AddSelection(ctx context.Context, sel Selection) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO selections (character_id, room_id, character_name, room_name, created_at)
		VALUES ($1,$2,$3,$4,NOW()) ON CONFLICT (character_id, room_id) DO NOTHING`,
		sel.CharacterID, sel.RoomID, sel.CharacterName, sel.RoomName)
	return err
}

// RemoveSelection drops a character/room pair from polling.
func (s *Store) RemoveSelection(ctx context.Context, characterID, roomID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM selections WHERE character_id=$1 AND room_id=$2`, characterID, roomID)
	return err
}

// ListSelections returns all tracked pairs.
func (s *Store) ListSelections(ctx context.Context) ([]Selection, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT character_id, room_id, COALESCE(character_name,''), COALESCE(room_name,'') FROM selections ORDER BY character_id, room_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Selection{}
	for rows.Next() {
		var sel Selection
		if err := rows.Scan(&sel.CharacterID, &sel.RoomID, &sel.CharacterName, &sel.RoomName); err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

// ReassignRoom repoints selections from a stale room id to its replacement.
// Used after a member removal recreated the room under a new id.
func (s *Store) ReassignRoom(ctx context.Context, oldID, newID, newName string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE selections SET room_id=$1, room_name=$2 WHERE room_id=$3`, newID, newName, oldID)
	return err
}

// SetJobTimestamp records when a named background job last ran.
func SetJobTimestamp(ctx context.Context, db *sql.DB, key string) {
	_, _ = db.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1, to_char(NOW() AT TIME ZONE 'UTC','YYYY-MM-DD"T"HH24:MI:SS"Z"'), NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key)
}

// GetKV returns a kv value or empty string when absent.
func GetKV(ctx context.Context, db *sql.DB, key string) string {
	var v string
	_ = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	return v
}
