package watch

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"studyflow/internal/push"
)

// Streams a user session subscribes to.
var sessionStreams = []string{"jobs", "courses", "messages"}

// Callbacks receive a session's decoded events. Nil fields are skipped.
type Callbacks struct {
	// OnJob receives every pushed job event, progress included.
	OnJob func(push.JobEvent)
	// OnJobDone receives reconciled job completions. A job whose
	// completion was already delivered by polling is not repeated here.
	OnJobDone func(Done)
	OnCourse  func(push.CourseEvent)
	OnMessage func(push.MessageEvent)
	// OnStatus reports channel lifecycle changes per stream.
	OnStatus func(stream string, st push.Status)
}

// Session is a live push subscription covering one user's streams.
type Session struct {
	userID   string
	watcher  *Watcher
	channels []*push.Channel
	cb       atomic.Pointer[Callbacks]
}

// WatchUser opens push channels for the user's event streams. Events
// flow to cb until SetCallbacks replaces it or Close tears the session
// down. Fails when the watcher has no transport.
func (w *Watcher) WatchUser(userID string, cb Callbacks) (*Session, error) {
	if w.transport == nil {
		return nil, fmt.Errorf("watch user %s: no push transport configured", userID)
	}
	s := &Session{userID: userID, watcher: w}
	s.cb.Store(&cb)

	opts := append([]push.ChannelOption{push.WithChannelLogger(w.log)}, w.channelOpts...)
	for _, stream := range sessionStreams {
		stream := stream
		ch := push.Open(push.Topic(userID, stream), w.transport, push.Callbacks{
			OnEvent: s.dispatch,
			OnStatus: func(st push.Status) {
				if cb := s.cb.Load(); cb != nil && cb.OnStatus != nil {
					cb.OnStatus(stream, st)
				}
			},
		}, opts...)
		s.channels = append(s.channels, ch)
	}
	w.log.Info("user session opened", slog.String("user_id", userID))
	return s, nil
}

// SetCallbacks replaces the session's callbacks. Events in flight may
// still reach the previous set.
func (s *Session) SetCallbacks(cb Callbacks) {
	s.cb.Store(&cb)
}

// Close tears down all channels. Safe to call more than once.
func (s *Session) Close() error {
	for _, ch := range s.channels {
		_ = ch.Close()
	}
	s.watcher.log.Info("user session closed", slog.String("user_id", s.userID))
	return nil
}

func (s *Session) dispatch(ev push.Event) {
	cb := s.cb.Load()
	switch ev.Type {
	case push.EventJobUpdated, push.EventJobProgress:
		s.watcher.handleJobEvent(s.userID, ev, cb)
	case push.EventCourseCreated, push.EventCourseUpdated:
		ce, err := ev.Course()
		if err != nil {
			s.watcher.log.Warn("unusable course event",
				slog.String("topic", ev.Topic), slog.Any("error", err))
			return
		}
		if cb != nil && cb.OnCourse != nil {
			cb.OnCourse(ce)
		}
	case push.EventMessageCreated:
		me, err := ev.Message()
		if err != nil {
			s.watcher.log.Warn("unusable message event",
				slog.String("topic", ev.Topic), slog.Any("error", err))
			return
		}
		if cb != nil && cb.OnMessage != nil {
			cb.OnMessage(me)
		}
	default:
		// Unknown event kinds are ignored to stay forward compatible.
		s.watcher.log.Debug("unknown push event",
			slog.String("topic", ev.Topic), slog.String("type", string(ev.Type)))
	}
}
