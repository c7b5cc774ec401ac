package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

type RouterConfig struct {
	MaxContentRunes int
	SendTimeout     time.Duration
	HistoryDefault  int
	HistoryMax      int
	MaxReplay       int
}

func (c RouterConfig) withDefaults() RouterConfig {
	if c.MaxContentRunes <= 0 {
		c.MaxContentRunes = 4000
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.HistoryDefault <= 0 {
		c.HistoryDefault = 50
	}
	if c.HistoryMax <= 0 {
		c.HistoryMax = 100
	}
	if c.MaxReplay <= 0 {
		c.MaxReplay = 1000
	}
	return c
}

// SlowConsumerFunc is invoked after fanout for sessions the policy kicks.
type SlowConsumerFunc func(s *Session)

// PublishResult summarizes one fanout.
type PublishResult struct {
	SentTo  int
	Dropped []*Session
}

// MessageRouter validates, persists and fans out chat messages. Persistence
// and fanout for one room run under that room's sequencer, so subscribers
// observe messages in store order; different rooms proceed in parallel.
type MessageRouter struct {
	store    core.MessageStore
	authz    Authorizer
	subs     *SubscriptionTable
	sessions *Registry
	policy   Policy
	onSlow   SlowConsumerFunc
	cfg      RouterConfig

	seqMu      sync.Mutex
	sequencers map[domain.RoomID]*sequencer
}

type sequencer struct {
	mu   sync.Mutex
	refs int
}

func NewMessageRouter(
	store core.MessageStore,
	authz Authorizer,
	subs *SubscriptionTable,
	sessions *Registry,
	policy Policy,
	cfg RouterConfig,
) *MessageRouter {
	if policy == nil {
		policy = ClosePolicy{}
	}
	return &MessageRouter{
		store:      store,
		authz:      authz,
		subs:       subs,
		sessions:   sessions,
		policy:     policy,
		cfg:        cfg.withDefaults(),
		sequencers: make(map[domain.RoomID]*sequencer),
	}
}

// OnSlowConsumer registers the disconnect hook used by KickSession.
func (r *MessageRouter) OnSlowConsumer(fn SlowConsumerFunc) {
	r.onSlow = fn
}

func (r *MessageRouter) lock(id domain.RoomID) func() {
	r.seqMu.Lock()
	sq, ok := r.sequencers[id]
	if !ok {
		sq = &sequencer{}
		r.sequencers[id] = sq
	}
	sq.refs++
	r.seqMu.Unlock()

	sq.mu.Lock()
	return func() {
		sq.mu.Unlock()
		r.seqMu.Lock()
		sq.refs--
		if sq.refs == 0 {
			delete(r.sequencers, id)
		}
		r.seqMu.Unlock()
	}
}

// Submit handles send_message for s. On success every subscriber of the
// room, the sender's own devices included, has the message queued.
func (r *MessageRouter) Submit(ctx context.Context, s *Session, id domain.RoomID, content string) (domain.Message, error) {
	if s.State() != StateAuthenticated {
		return domain.Message{}, domain.ErrNotAuthenticated
	}
	if err := domain.ValidateContent(content, r.cfg.MaxContentRunes); err != nil {
		return domain.Message{}, err
	}
	ok, err := r.authz.IsMember(ctx, id, s.UserID())
	if err != nil {
		return domain.Message{}, err
	}
	if !ok {
		return domain.Message{}, domain.ErrNotMember
	}

	draft := domain.Draft{RoomID: id, Sender: *s.User(), Content: content}

	unlock := r.lock(id)
	pctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	msg, err := r.store.AppendMessage(pctx, draft)
	cancel()
	if err != nil {
		unlock()
		log.Error().Err(err).Str("module", "app.router").Int64("room", int64(id)).Str("user", string(draft.Sender.ID)).Msg("persist failed")
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}
	res := r.fanout(id, msg)
	unlock()

	log.Debug().Str("module", "app.router").Int64("room", int64(id)).Int64("msg", int64(msg.ID)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("fanout")
	r.applyPolicy(id, res)
	return msg, nil
}

func (r *MessageRouter) fanout(id domain.RoomID, msg domain.Message) PublishResult {
	frame := protocol.NewMessage(msg)
	res := PublishResult{}
	for _, sid := range r.subs.FanoutTargets(id) {
		s, ok := r.sessions.Get(sid)
		if !ok {
			continue
		}
		err := s.Send(frame)
		switch {
		case err == nil:
			res.SentTo++
		case errors.Is(err, core.ErrBackpressure):
			res.Dropped = append(res.Dropped, s)
		}
	}
	return res
}

func (r *MessageRouter) applyPolicy(id domain.RoomID, res PublishResult) {
	if len(res.Dropped) == 0 {
		return
	}
	ref := RoomRef{ID: int64(id), Subscribers: res.SentTo + len(res.Dropped)}
	for _, s := range res.Dropped {
		if r.policy.OnBackPressure(ref, s) != KickSession {
			continue
		}
		log.Warn().Str("module", "app.router").Str("sid", string(s.ID())).Int64("room", int64(id)).Msg("slow consumer kicked")
		if r.onSlow != nil {
			r.onSlow(s)
		}
	}
}

// Attach subscribes s to the room under its sequencer and returns the id of
// the newest persisted message. With afterID set, every later message is
// queued to s first, so nothing between afterID and live delivery is lost or
// repeated.
func (r *MessageRouter) Attach(ctx context.Context, s *Session, id domain.RoomID, afterID *domain.MessageID) (domain.MessageID, error) {
	if s.State() != StateAuthenticated {
		return 0, domain.ErrNotAuthenticated
	}
	// Check outside the sequencer so a slow membership source does not stall
	// the room; Subscribe repeats it against the warm cache.
	ok, err := r.authz.IsMember(ctx, id, s.UserID())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, domain.ErrNotMember
	}

	unlock := r.lock(id)
	defer unlock()

	already := r.subs.IsSubscribed(id, s.ID())
	var missed []domain.Message
	var last domain.MessageID
	if afterID != nil && !already {
		missed, last, err = r.since(ctx, id, *afterID)
	} else {
		last, err = r.latest(ctx, id)
	}
	if err != nil {
		return 0, err
	}

	if _, err := r.subs.Subscribe(ctx, id, s); err != nil {
		return 0, err
	}
	for _, m := range missed {
		if err := s.Send(protocol.NewMessage(m)); err != nil {
			r.subs.Unsubscribe(id, s)
			return 0, err
		}
	}
	return last, nil
}

func (r *MessageRouter) latest(ctx context.Context, id domain.RoomID) (domain.MessageID, error) {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()
	page, err := r.store.ListMessages(pctx, id, nil, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
	}
	if len(page.Messages) == 0 {
		return 0, nil
	}
	return page.Messages[len(page.Messages)-1].ID, nil
}

// since pages backwards from the newest message until it reaches afterID.
func (r *MessageRouter) since(ctx context.Context, id domain.RoomID, afterID domain.MessageID) ([]domain.Message, domain.MessageID, error) {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	var (
		out    []domain.Message
		before *domain.MessageID
		last   domain.MessageID
	)
	for {
		page, err := r.store.ListMessages(pctx, id, before, r.cfg.HistoryMax)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", domain.ErrSendFailed, err)
		}
		if len(page.Messages) == 0 {
			break
		}
		if last == 0 {
			last = page.Messages[len(page.Messages)-1].ID
		}
		reached := false
		for i := len(page.Messages) - 1; i >= 0; i-- {
			m := page.Messages[i]
			if m.ID <= afterID {
				reached = true
				break
			}
			out = append(out, m)
			if len(out) > r.cfg.MaxReplay {
				return nil, 0, domain.ErrResyncRequired
			}
		}
		if reached || !page.HasMore {
			break
		}
		oldest := page.Messages[0].ID
		before = &oldest
	}
	slices.Reverse(out)
	return out, last, nil
}

// History returns one page for a member of the room. Limit is clamped to
// the configured maximum; zero selects the default.
func (r *MessageRouter) History(ctx context.Context, uid domain.UserID, id domain.RoomID, beforeID *domain.MessageID, limit int) (domain.Page, error) {
	ok, err := r.authz.IsMember(ctx, id, uid)
	if err != nil {
		return domain.Page{}, err
	}
	if !ok {
		return domain.Page{}, domain.ErrNotMember
	}
	if limit <= 0 {
		limit = r.cfg.HistoryDefault
	}
	limit = min(limit, r.cfg.HistoryMax)
	page, err := r.store.ListMessages(ctx, id, beforeID, limit)
	if err != nil {
		return domain.Page{}, fmt.Errorf("list messages: %w", err)
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	return page, nil
}

func (r *MessageRouter) Config() RouterConfig {
	return r.cfg
}
