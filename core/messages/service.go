package messages

import (
	"context"
	"errors"
	"strings"

	"restotrack/core/store"
	"restotrack/core/utils"
)

var ErrEmptyBody = errors.New("message body is empty")

type Invalidator interface {
	ExpireForIncident(ctx context.Context, incidentID, excludeUserID int64)
}

type Service struct {
	store  store.MessagesStore
	cache  Invalidator
	logger *utils.Logger
}

func NewService(messagesStore store.MessagesStore, logger *utils.Logger) *Service {
	return &Service{store: messagesStore, logger: logger}
}

func (s *Service) SetInvalidator(inv Invalidator) {
	if s == nil {
		return
	}
	s.cache = inv
}

// Post stores a message on the incident thread and expires unread
// caches for everyone but the author.
func (s *Service) Post(ctx context.Context, incidentID, authorID int64, body string) (*store.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	msg := &store.Message{
		IncidentID:   incidentID,
		AuthorUserID: authorID,
		Body:         body,
	}
	if _, err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.ExpireForIncident(ctx, incidentID, authorID)
	}
	return msg, nil
}

func (s *Service) Thread(ctx context.Context, incidentID int64, limit int) ([]store.Message, error) {
	return s.store.ListIncidentMessages(ctx, incidentID, limit)
}
