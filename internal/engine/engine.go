// Package engine owns the local message log of each open conversation. It
// applies optimistic mutations, persists the whole log after every change and
// drives messages from pending to sent or failed through an injected
// delivery function.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"client_go/internal/domain"
	"client_go/internal/logging"
	"client_go/internal/metrics"
	"client_go/internal/store"
)

// Engine is the synchronization engine for one room. All methods are safe
// for concurrent use.
type Engine struct {
	roomID string
	userID string

	store    domain.LogStore
	deliver  domain.DeliverFunc
	uploader domain.Uploader
	creds    domain.CredentialSource
	limiter  *rate.Limiter
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	msgs    []*domain.Message
	revs    map[string]uint64 // content revision per message id
	gen     uint64
	version uint64 // bumped on every in-memory change
	closed  bool

	// at most one delivery in flight per room
	deliverMu sync.Mutex

	persistMu sync.Mutex
	written   uint64
	dirty     atomic.Bool
}

// FlushResult summarizes one AttemptFlushQueue scan.
type FlushResult struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// New loads the room's log from s and returns an engine owning it.
func New(ctx context.Context, s domain.LogStore, roomID, userID string, opts ...Option) (*Engine, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", domain.ErrInvalidInput)
	}
	e := &Engine{
		roomID: roomID,
		userID: userID,
		store:  s,
		revs:   make(map[string]uint64),
		now:    time.Now,
		newID:  defaultID,
		log:    logging.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().
		Str(logging.FieldComponent, "engine").
		Str(logging.FieldRoomID, roomID).
		Logger()

	loaded, err := s.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	e.msgs = make([]*domain.Message, 0, len(loaded))
	for _, m := range loaded {
		if m != nil {
			e.msgs = append(e.msgs, m)
		}
	}
	store.SortByCreatedAt(e.msgs)
	e.metrics.Pending(roomID, e.pendingLocked())

	e.log.Debug().Int("messages", len(e.msgs)).Msg("room opened")
	return e, nil
}

func (e *Engine) RoomID() string { return e.roomID }

// Close stops the engine from accepting new operations. Deliveries already
// in flight still record their outcome.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.metrics.ForgetRoom(e.roomID)
}

// SendText sends text with the optional extra payload fields merged in.
// Whitespace-only text is rejected.
func (e *Engine) SendText(ctx context.Context, text string, extra domain.Payload) (domain.Message, bool) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, false
	}
	p := extra
	p.Content.Text = text
	if p.Content.Kind == "" {
		p.Content.Kind = domain.KindText
	}
	return e.SendRich(ctx, p)
}

// SendRich appends a new pending message, persists the log and, when a
// deliverer is configured, attempts delivery once. A failed attempt leaves
// the message pending for the next flush.
func (e *Engine) SendRich(ctx context.Context, p domain.Payload) (domain.Message, bool) {
	content := p.Content
	if content.Kind == "" {
		content.Kind = inferKind(content, len(p.Attachments) > 0)
		p.Content = content
	}
	if !p.Accepted() {
		return domain.Message{}, false
	}
	if err := content.Validate(); err != nil {
		e.log.Debug().Err(err).Msg("payload rejected")
		return domain.Message{}, false
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.Message{}, false
	}
	m := &domain.Message{
		ID:          e.newID(),
		RoomID:      e.roomID,
		SenderID:    e.userID,
		FromMe:      true,
		CreatedAt:   e.nextCreatedAtLocked(),
		ReplyToID:   p.ReplyToID,
		IsLocalOnly: true,
		Status:      domain.StatusPending,
	}
	// Apply copies the variant bodies so the caller keeps its payload.
	domain.Patch{Content: &content, Attachments: &p.Attachments}.Apply(m)
	e.msgs = append(e.msgs, m)
	e.touchLocked(m.ID)
	out := *m.Clone()
	snap, v := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap, v, "send")

	if e.deliver == nil {
		return out, true
	}
	// A failed attempt keeps the message pending for the next flush.
	if outcome := e.deliverOne(ctx, out.ID, domain.StatusPending); outcome == metrics.OutcomeSent {
		e.persistCurrent(ctx, "send")
	}
	if cur, ok := e.Message(out.ID); ok {
		out = cur
	}
	return out, true
}

// SendWithAttachments uploads files and sends them with text as caption. A
// file that fails to upload is left out of the message; the rest is still sent.
func (e *Engine) SendWithAttachments(ctx context.Context, text string, files []domain.LocalFile, extra domain.Payload) (domain.Message, bool) {
	p := extra
	p.Content.Text = text
	if len(files) > 0 {
		p.Attachments = append(append([]domain.Attachment(nil), extra.Attachments...), e.upload(ctx, files)...)
	}
	if p.Content.Kind == "" && len(p.Attachments) > 0 {
		p.Content.Kind = domain.KindAttachments
	}
	return e.SendRich(ctx, p)
}

func (e *Engine) upload(ctx context.Context, files []domain.LocalFile) []domain.Attachment {
	if e.uploader == nil {
		e.log.Warn().Int("files", len(files)).Msg("no uploader configured, attachments omitted")
		return nil
	}
	var token string
	if e.creds != nil {
		if c, ok := e.creds.Credentials(); ok {
			token = c.Token
		}
	}
	out := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		att, err := e.uploader.Upload(ctx, f, token)
		if err != nil {
			e.metrics.UploadFailure()
			e.log.Warn().Err(err).Str(logging.FieldPath, f.Path).Msg("upload failed, attachment omitted")
			continue
		}
		out = append(out, att)
	}
	return out
}

// EditMessage merges patch into the message and resets it to pending.
// Unknown and deleted messages are left untouched.
func (e *Engine) EditMessage(ctx context.Context, id string, patch domain.Patch) bool {
	e.mu.Lock()
	m := e.findLocked(id)
	if e.closed || m == nil || m.IsDeleted {
		e.mu.Unlock()
		return false
	}
	next := m.Clone()
	patch.Apply(next)
	if err := next.Content.Validate(); err != nil {
		e.mu.Unlock()
		e.log.Debug().Err(err).Str(logging.FieldMessageID, id).Msg("edit rejected")
		return false
	}
	now := e.now().UTC().Truncate(time.Millisecond)
	next.IsEdited = true
	next.UpdatedAt = &now
	next.Status = domain.StatusPending
	*m = *next
	e.touchLocked(id)
	snap, v := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap, v, "edit")
	return true
}

// SoftDeleteMessage clears the message content and marks it deleted. The
// message keeps its id, room and position in the log.
func (e *Engine) SoftDeleteMessage(ctx context.Context, id string) bool {
	e.mu.Lock()
	m := e.findLocked(id)
	if e.closed || m == nil {
		e.mu.Unlock()
		return false
	}
	m.IsDeleted = true
	m.ClearContent()
	m.Status = domain.StatusPending
	e.touchLocked(id)
	snap, v := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap, v, "delete")
	return true
}

// ReplyToMessage sends text as a reply to parent, which must be part of
// this room's log.
func (e *Engine) ReplyToMessage(ctx context.Context, parent domain.Message, text string, extra domain.Payload) (domain.Message, bool) {
	if parent.RoomID != "" && parent.RoomID != e.roomID {
		return domain.Message{}, false
	}
	if _, ok := e.Message(parent.ID); !ok {
		return domain.Message{}, false
	}
	extra.ReplyToID = parent.ID
	return e.SendText(ctx, text, extra)
}

func (e *Engine) SetPinned(ctx context.Context, id string, pinned bool) bool {
	return e.setFlag(ctx, id, "pin", func(m *domain.Message) { m.IsPinned = pinned })
}

func (e *Engine) SetStarred(ctx context.Context, id string, starred bool) bool {
	return e.setFlag(ctx, id, "star", func(m *domain.Message) { m.IsStarred = starred })
}

// setFlag changes local-only flags; the delivery status is not affected.
func (e *Engine) setFlag(ctx context.Context, id, op string, fn func(*domain.Message)) bool {
	e.mu.Lock()
	m := e.findLocked(id)
	if e.closed || m == nil {
		e.mu.Unlock()
		return false
	}
	fn(m)
	snap, v := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap, v, op)
	return true
}

// AttemptFlushQueue retries every pending or failed message in log order,
// one attempt at a time. Success marks a message sent, failure marks it
// failed. Deletes of messages the server never received are settled
// without a frame and counted as skipped. The log is persisted once after
// the scan.
func (e *Engine) AttemptFlushQueue(ctx context.Context) FlushResult {
	var res FlushResult
	if e.deliver == nil {
		return res
	}
	settled := 0
	e.metrics.FlushRun()

	e.mu.Lock()
	ids := make([]string, 0)
	for _, m := range e.msgs {
		if m.Status.NeedsDelivery() {
			ids = append(ids, m.ID)
		}
	}
	e.mu.Unlock()

	for i, id := range ids {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				e.metrics.Delivery(metrics.OutcomeThrottle)
				res.Skipped += len(ids) - i
				e.log.Debug().Err(err).Int("remaining", len(ids)-i).Msg("flush interrupted")
				break
			}
		}
		switch e.deliverOne(ctx, id, domain.StatusFailed) {
		case metrics.OutcomeSent:
			res.Attempted++
			res.Sent++
		case metrics.OutcomeFailed, metrics.OutcomeOffline:
			res.Attempted++
			res.Failed++
		case metrics.OutcomeStale:
			res.Attempted++
			res.Skipped++
		case metrics.OutcomeSettled:
			settled++
			res.Skipped++
		default:
			res.Skipped++
		}
	}

	if res.Attempted > 0 || settled > 0 || e.dirty.Load() {
		e.persistCurrent(ctx, "flush")
	}
	if res.Attempted > 0 {
		e.log.Info().
			Int("sent", res.Sent).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Msg("queue flushed")
	}
	return res
}

// deliverOne makes a single delivery attempt for id. onFailure is the
// status recorded when the attempt fails. The returned outcome is empty when
// the message no longer needed delivery.
func (e *Engine) deliverOne(ctx context.Context, id string, onFailure domain.Status) string {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	m := e.findLocked(id)
	if m == nil || !m.Status.NeedsDelivery() {
		e.mu.Unlock()
		return ""
	}
	if m.IsDeleted && m.IsLocalOnly {
		// The server never saw this message, so there is nothing to retract.
		m.Status = domain.StatusSent
		e.version++
		e.metrics.Delivery(metrics.OutcomeSettled)
		e.metrics.Pending(e.roomID, e.pendingLocked())
		e.mu.Unlock()
		e.log.Debug().Str(logging.FieldMessageID, id).Msg("local-only delete settled")
		return metrics.OutcomeSettled
	}
	rev := e.revs[id]
	cp := *m.Clone()
	e.mu.Unlock()

	ok, err := e.callDeliver(ctx, cp)

	e.mu.Lock()
	defer e.mu.Unlock()

	m = e.findLocked(id)
	if m != nil && cp.IsLocalOnly && m.IsLocalOnly && ok && err == nil {
		// The create reached the server even if the result is stale.
		m.IsLocalOnly = false
		e.version++
	}
	if m == nil || e.revs[id] != rev {
		// Edited, deleted or replaced while in flight; the confirmation
		// belongs to content that no longer exists.
		e.metrics.Delivery(metrics.OutcomeStale)
		e.log.Debug().Str(logging.FieldMessageID, id).Msg("stale delivery result discarded")
		return metrics.OutcomeStale
	}

	outcome := metrics.OutcomeSent
	if ok && err == nil {
		m.Status = domain.StatusSent
		m.IsLocalOnly = false
	} else {
		outcome = metrics.OutcomeFailed
		if errors.Is(err, domain.ErrNotConnected) {
			outcome = metrics.OutcomeOffline
		}
		m.Status = onFailure
		e.log.Debug().
			Err(err).
			Bool("accepted", ok).
			Str(logging.FieldMessageID, id).
			Str(logging.FieldStatus, string(onFailure)).
			Msg("delivery failed")
	}
	e.version++
	e.metrics.Delivery(outcome)
	e.metrics.Pending(e.roomID, e.pendingLocked())
	return outcome
}

func (e *Engine) callDeliver(ctx context.Context, m domain.Message) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("deliverer panic: %v", r)
		}
	}()
	return e.deliver(ctx, m)
}

// ReplaceMessages overwrites the whole log and persists it. Deliveries in
// flight for the previous contents are discarded.
func (e *Engine) ReplaceMessages(ctx context.Context, next []domain.Message) {
	e.mu.Lock()
	for _, m := range e.msgs {
		e.touchLocked(m.ID)
	}
	msgs := make([]*domain.Message, 0, len(next))
	for i := range next {
		m := next[i].Clone()
		msgs = append(msgs, m)
		e.touchLocked(m.ID)
	}
	store.SortByCreatedAt(msgs)
	e.msgs = msgs
	snap, v := e.snapshotLocked()
	e.mu.Unlock()

	e.persist(ctx, snap, v, "replace")
}

// Message returns a copy of the message with the given id.
func (e *Engine) Message(id string) (domain.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m := e.findLocked(id); m != nil {
		return *m.Clone(), true
	}
	return domain.Message{}, false
}

// Messages returns a copy of the log in CreatedAt order.
func (e *Engine) Messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Message, len(e.msgs))
	for i, m := range e.msgs {
		out[i] = *m.Clone()
	}
	return out
}

// ResolveReply looks up the parent of m in this room. A missing parent is
// reported as unknown, never as an error.
func (e *Engine) ResolveReply(m domain.Message) (domain.Message, bool) {
	if m.ReplyToID == "" {
		return domain.Message{}, false
	}
	return e.Message(m.ReplyToID)
}

// PendingCount is the number of messages a flush would retry.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingLocked()
}

// Persist writes the current log and reports the storage error, if any.
func (e *Engine) Persist(ctx context.Context) error {
	e.mu.Lock()
	snap, v := e.snapshotLocked()
	e.mu.Unlock()
	return e.write(ctx, snap, v, true)
}

func (e *Engine) persistCurrent(ctx context.Context, op string) {
	e.mu.Lock()
	snap, v := e.snapshotLocked()
	e.mu.Unlock()
	e.persist(ctx, snap, v, op)
}

// persist writes a snapshot. Failures are logged and counted; the engine
// stays dirty so the next write covers the lost one.
func (e *Engine) persist(ctx context.Context, snap []*domain.Message, v uint64, op string) {
	if err := e.write(ctx, snap, v, false); err != nil {
		e.log.Warn().Err(err).Str(logging.FieldOp, op).Msg("persist failed, will retry on next write")
	}
}

func (e *Engine) write(ctx context.Context, snap []*domain.Message, v uint64, force bool) error {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	if v < e.written || (v == e.written && !force && !e.dirty.Load()) {
		return nil
	}
	if err := e.store.Save(ctx, e.roomID, snap); err != nil {
		e.dirty.Store(true)
		e.metrics.PersistFailure()
		return fmt.Errorf("save room %s: %w", e.roomID, err)
	}
	e.written = v
	e.dirty.Store(false)
	return nil
}

// snapshotLocked bumps the version and deep-copies the log. e.mu must be held.
func (e *Engine) snapshotLocked() ([]*domain.Message, uint64) {
	e.version++
	snap := make([]*domain.Message, len(e.msgs))
	for i, m := range e.msgs {
		snap[i] = m.Clone()
	}
	e.metrics.Pending(e.roomID, e.pendingLocked())
	return snap, e.version
}

func (e *Engine) touchLocked(id string) {
	e.gen++
	e.revs[id] = e.gen
}

func (e *Engine) findLocked(id string) *domain.Message {
	for _, m := range e.msgs {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (e *Engine) pendingLocked() int {
	n := 0
	for _, m := range e.msgs {
		if m.Status.NeedsDelivery() {
			n++
		}
	}
	return n
}

// nextCreatedAtLocked returns now, moved past the newest message when the
// clock went backwards so new messages always sort last.
func (e *Engine) nextCreatedAtLocked() time.Time {
	now := e.now().UTC().Truncate(time.Millisecond)
	if n := len(e.msgs); n > 0 {
		if last := e.msgs[n-1].CreatedAt; !now.After(last) {
			now = last.Add(time.Millisecond)
		}
	}
	return now
}

func inferKind(c domain.Content, hasAttachments bool) domain.Kind {
	switch {
	case c.Styled != nil:
		return domain.KindStyled
	case c.Voice != nil:
		return domain.KindVoice
	case c.Sticker != nil:
		return domain.KindSticker
	case len(c.Contacts) > 0:
		return domain.KindContact
	case c.Poll != nil:
		return domain.KindPoll
	case c.Event != nil:
		return domain.KindEvent
	case hasAttachments && strings.TrimSpace(c.Text) == "":
		return domain.KindAttachments
	}
	return domain.KindText
}
