package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/repochat/internal/ai"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const summaryMaxRunes = 120

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetSession returns the session only if it belongs to visitorID.
func (r *Repo) GetSession(ctx context.Context, sessionID, visitorID string) (*Session, error) {
	s, err := r.FindSession(ctx, sessionID, visitorID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// FindSession is GetSession for callers that may start the session themselves: a missing
// session yields (nil, nil), one owned by another visitor still yields ErrSessionNotFound.
func (r *Repo) FindSession(ctx context.Context, sessionID, visitorID string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.VisitorID != visitorID {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

// AppendTurn records a completed turn: the session row (created on first use) and the user
// and assistant messages are written in one transaction. Replaying the same turn is a no-op.
func (r *Repo) AppendTurn(ctx context.Context, t Turn) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		err := tx.Where("session_id = ?", t.SessionID).First(&s).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s = Session{
				SessionID:          t.SessionID,
				VisitorID:          t.VisitorID,
				ActiveRepo:         t.ActiveRepo,
				LastMessageSummary: summarize(t.Question),
				LastMessageAt:      t.At,
				CreatedAt:          t.At,
			}
			if err := tx.Create(&s).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case s.VisitorID != t.VisitorID:
			return ErrSessionNotFound
		default:
			updates := map[string]any{
				"last_message_summary": summarize(t.Question),
			}
			if t.At.After(s.LastMessageAt) {
				updates["last_message_at"] = t.At
			}
			if t.ActiveRepo != "" {
				updates["active_repo"] = t.ActiveRepo
			}
			if err := tx.Model(&s).Updates(updates).Error; err != nil {
				return err
			}
		}

		citations := t.Citations
		if citations == nil {
			citations = []ai.Citation{}
		}
		msgs := []Message{
			{
				SessionID:      t.SessionID,
				VisitorID:      t.VisitorID,
				Role:           RoleUser,
				Content:        t.Question,
				IdempotencyKey: idempotencyKey(t.TurnID, RoleUser),
				CreatedAt:      t.At,
			},
			{
				SessionID:      t.SessionID,
				VisitorID:      t.VisitorID,
				Role:           RoleAssistant,
				Content:        t.Answer,
				Citations:      citations,
				IdempotencyKey: idempotencyKey(t.TurnID, RoleAssistant),
				CreatedAt:      t.At,
			},
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&msgs).Error
	})
}

// ListSessions returns the visitor's sessions, most recently active first.
func (r *Repo) ListSessions(ctx context.Context, visitorID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		Order("last_message_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns the newest limit messages of a session in chronological order.
// A session owned by another visitor yields no rows.
func (r *Repo) ListMessages(ctx context.Context, sessionID, visitorID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var desc []Message
	if err := r.db.WithContext(ctx).
		Where("visitor_id = ? AND session_id = ?", visitorID, sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&desc).Error; err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(desc)-1; i < j; i, j = i+1, j-1 {
		desc[i], desc[j] = desc[j], desc[i]
	}
	return desc, nil
}

func summarize(question string) string {
	s := strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(s) <= summaryMaxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:summaryMaxRunes-1]) + "…"
}
