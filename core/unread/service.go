package unread

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"restotrack/core/activity"
	"restotrack/core/store"
	"restotrack/core/utils"
)

type Counts struct {
	Messages int `json:"messages"`
	Activity int `json:"activity"`
}

type Visibility interface {
	CanView(ctx context.Context, userID int64, inc *store.Incident) (bool, error)
	VisibleUserIDs(ctx context.Context, inc *store.Incident) ([]int64, error)
}

// Service answers "does this user have anything unread" without
// recomputing on every page view. Entries are cache-aside: populated
// on read, deleted (never updated in place) by the write paths, and
// rebuilt from messages, activity events and read-state watermarks on
// the next read.
type Service struct {
	incidents  store.IncidentsStore
	messages   store.MessagesStore
	activities store.ActivityStore
	readStates store.ReadStateStore
	visibility Visibility
	hasUnread  *lru.Cache[int64, bool]
	counts     *lru.Cache[int64, map[int64]Counts]
	logger     *utils.Logger
}

func NewService(incidents store.IncidentsStore, messages store.MessagesStore, activities store.ActivityStore, readStates store.ReadStateStore, visibility Visibility, cacheSize int, logger *utils.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	hasUnread, err := lru.New[int64, bool](cacheSize)
	if err != nil {
		return nil, err
	}
	counts, err := lru.New[int64, map[int64]Counts](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		incidents:  incidents,
		messages:   messages,
		activities: activities,
		readStates: readStates,
		visibility: visibility,
		hasUnread:  hasUnread,
		counts:     counts,
		logger:     logger,
	}, nil
}

func (s *Service) HasUnread(ctx context.Context, userID int64) (bool, error) {
	if v, ok := s.hasUnread.Get(userID); ok {
		return v, nil
	}
	counts, err := s.UnreadCounts(ctx, userID)
	if err != nil {
		return false, err
	}
	result := false
	for _, c := range counts {
		if c.Messages > 0 || c.Activity > 0 {
			result = true
			break
		}
	}
	s.hasUnread.Add(userID, result)
	return result, nil
}

// UnreadCounts recomputes per-incident unread counts from the source
// of truth when no cache entry exists. A message counts when authored
// by someone else after the user's message watermark; an activity
// event counts only when its type is in the daily-log subset. The
// returned map is the caller's to mutate; the cached entry is never
// handed out directly.
func (s *Service) UnreadCounts(ctx context.Context, userID int64) (map[int64]Counts, error) {
	if v, ok := s.counts.Get(userID); ok {
		return cloneCounts(v), nil
	}
	all, err := s.incidents.ListIncidents(ctx, store.IncidentFilter{})
	if err != nil {
		return nil, err
	}
	result := map[int64]Counts{}
	unreadTypes := activity.DailyLogUnreadTypes()
	for i := range all {
		inc := &all[i]
		visible, err := s.visibility.CanView(ctx, userID, inc)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		st, err := s.readStates.GetReadState(ctx, inc.ID, userID)
		if err != nil {
			return nil, err
		}
		var msgSince, actSince *time.Time
		if st != nil {
			msgSince = st.LastMessageReadAt
			actSince = st.LastActivityReadAt
		}
		msgs, err := s.messages.CountUnreadMessages(ctx, inc.ID, userID, msgSince)
		if err != nil {
			return nil, err
		}
		acts, err := s.activities.CountUnreadActivity(ctx, inc.ID, userID, unreadTypes, actSince)
		if err != nil {
			return nil, err
		}
		if msgs > 0 || acts > 0 {
			result[inc.ID] = Counts{Messages: msgs, Activity: acts}
		}
	}
	s.counts.Add(userID, result)
	s.hasUnread.Add(userID, len(result) > 0)
	return cloneCounts(result), nil
}

func cloneCounts(in map[int64]Counts) map[int64]Counts {
	out := make(map[int64]Counts, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Service) ExpireForUser(ctx context.Context, userID int64) {
	s.hasUnread.Remove(userID)
	s.counts.Remove(userID)
}

// ExpireForIncident drops cache entries for every user who can see the
// incident except the actor who produced the write. Invalidation is
// best-effort: a resolver failure is logged and the caches for that
// incident's viewers simply age out on their next write.
func (s *Service) ExpireForIncident(ctx context.Context, incidentID, excludeUserID int64) {
	inc, err := s.incidents.GetIncident(ctx, incidentID)
	if err != nil || inc == nil {
		if err != nil && s.logger != nil {
			s.logger.Errorf("unread expire: load incident %d: %v", incidentID, err)
		}
		return
	}
	users, err := s.visibility.VisibleUserIDs(ctx, inc)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("unread expire: visibility for incident %d: %v", incidentID, err)
		}
		return
	}
	for _, id := range users {
		if id == excludeUserID {
			continue
		}
		s.hasUnread.Remove(id)
		s.counts.Remove(id)
	}
}

// MarkMessagesRead advances the user's message watermark and expires
// their cache entries so the next read recomputes.
func (s *Service) MarkMessagesRead(ctx context.Context, incidentID, userID int64) error {
	if err := s.readStates.MarkMessagesRead(ctx, incidentID, userID, time.Now().UTC()); err != nil {
		return err
	}
	s.ExpireForUser(ctx, userID)
	return nil
}

func (s *Service) MarkActivityRead(ctx context.Context, incidentID, userID int64) error {
	if err := s.readStates.MarkActivityRead(ctx, incidentID, userID, time.Now().UTC()); err != nil {
		return err
	}
	s.ExpireForUser(ctx, userID)
	return nil
}
