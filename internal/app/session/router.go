package session

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/observe"
	"supportchat/internal/pkg/randx"
	"supportchat/internal/pkg/wire"
)

const (
	userKeyPrefix  = "user:"
	guestKeyPrefix = "guest:"
)

// Origin tells whether a message item was received or rendered optimistically.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// MessageItem is one entry of a conversation. Items are never mutated once appended.
type MessageItem struct {
	ID      uuid.UUID
	Origin  Origin
	Type    wire.EventType
	Content string
	At      time.Time

	// Sender is empty for guests.
	Sender string

	// FromOperator is set for replies written by support staff.
	FromOperator bool
}

// Conversation groups the messages exchanged with one counterparty.
type Conversation struct {
	Key            string
	ClientID       string
	DisplayName    string
	LastActivityAt time.Time
	UnreadCount    int
	Messages       []MessageItem
}

// RouteResult describes what Route did with an event.
type RouteResult struct {
	// Key is the conversation the event was folded into.
	Key string

	// Appended is false when the event was recognized as an echo.
	Appended bool

	// Suppressed is set for echoes of optimistic replies.
	Suppressed bool
}

// ConversationKey derives the key of the conversation a participant event belongs to.
func ConversationKey(ev wire.ChatEvent) string {
	sender := ev.SenderName()
	if sender != "" && strings.TrimSpace(ev.Role) != "" && !user.IsGuestRole(ev.Role) {
		return userKeyPrefix + sender
	}
	return guestKeyPrefix + ev.ClientID
}

// Router folds operator-side traffic into conversations. Conversations live until
// Remove is called.
type Router struct {
	echo  *EchoSuppressor
	now   func() time.Time
	newID func() uuid.UUID

	// publishMu orders snapshot publication with the mutations that produced them.
	publishMu sync.Mutex

	mu            sync.Mutex
	convs         map[string]*Conversation
	keyByClientID map[string]string
	selected      string

	list      *observe.Cell[[]Conversation]
	selection *observe.Cell[string]
	refresh   *observe.Cell[uint64]
}

// NewRouter returns an empty router consulting echo before appending operator events.
func NewRouter(echo *EchoSuppressor) *Router {
	return &Router{
		echo:          echo,
		now:           time.Now,
		newID:         randx.MessageID,
		convs:         make(map[string]*Conversation),
		keyByClientID: make(map[string]string),
		list:          observe.NewCell[[]Conversation](nil),
		selection:     observe.NewCell(""),
		refresh:       observe.NewCell[uint64](0),
	}
}

// List publishes the conversations, most recently active first.
func (r *Router) List() observe.Value[[]Conversation] { return r.list }

// Selection publishes the key of the selected conversation.
func (r *Router) Selection() observe.Value[string] { return r.selection }

// Refreshes ticks whenever the selected conversation received a message.
func (r *Router) Refreshes() observe.Value[uint64] { return r.refresh }

// Route folds ev into its conversation and returns where it went.
func (r *Router) Route(ev wire.ChatEvent) RouteResult {
	var res RouteResult
	r.mutate(func() string {
		res = r.routeLocked(ev)
		if res.Appended {
			return res.Key
		}
		return ""
	})
	return res
}

func (r *Router) routeLocked(ev wire.ChatEvent) RouteResult {
	now := r.now()
	operator := user.IsOperatorRole(ev.Role)

	var key, display string
	if operator {
		key = r.operatorKeyLocked(ev.ClientID)
		display = GuestLabel(ev.ClientID)
	} else {
		key = ConversationKey(ev)
		display = participantLabel(ev, key)
		r.absorbGuestLocked(ev.ClientID, key, display)
		r.keyByClientID[ev.ClientID] = key
	}

	conv, ok := r.convs[key]
	if !ok {
		conv = &Conversation{Key: key, DisplayName: display}
		r.convs[key] = conv
	}
	conv.ClientID = ev.ClientID
	conv.LastActivityAt = now

	if r.selected == "" {
		r.selected = key
	}

	res := RouteResult{Key: key}
	if operator && r.echo != nil && r.echo.ShouldSuppress(ev) {
		res.Suppressed = true
		return res
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = now
	}
	conv.Messages = append(conv.Messages, MessageItem{
		ID:           r.newID(),
		Origin:       OriginRemote,
		Type:         ev.Type,
		Content:      ev.Content,
		At:           at,
		Sender:       ev.SenderName(),
		FromOperator: operator,
	})

	if key == r.selected {
		conv.UnreadCount = 0
	} else {
		conv.UnreadCount++
	}

	res.Appended = true
	return res
}

// operatorKeyLocked resolves the conversation an operator event continues: the indexed
// key, then the selected conversation, then the most recently active conversation for
// the client id, then a new guest conversation.
func (r *Router) operatorKeyLocked(clientID string) string {
	if key, ok := r.keyByClientID[clientID]; ok {
		if _, exists := r.convs[key]; exists {
			return key
		}
	}

	if sel, ok := r.convs[r.selected]; ok && sel.ClientID == clientID {
		return sel.Key
	}

	var best *Conversation
	for _, c := range r.convs {
		if c.ClientID != clientID {
			continue
		}
		if best == nil || c.LastActivityAt.After(best.LastActivityAt) ||
			(c.LastActivityAt.Equal(best.LastActivityAt) && c.Key < best.Key) {
			best = c
		}
	}
	if best != nil {
		return best.Key
	}

	return guestKeyPrefix + clientID
}

// absorbGuestLocked moves the guest conversation previously indexed for clientID under
// key once that client authenticated. History is merged when key already exists.
func (r *Router) absorbGuestLocked(clientID, key, display string) {
	prev, ok := r.keyByClientID[clientID]
	if !ok || prev == key || !strings.HasPrefix(prev, guestKeyPrefix) || !strings.HasPrefix(key, userKeyPrefix) {
		return
	}

	guest, ok := r.convs[prev]
	if !ok {
		return
	}
	delete(r.convs, prev)

	if target, exists := r.convs[key]; exists {
		target.Messages = mergeMessages(target.Messages, guest.Messages)
		target.UnreadCount += guest.UnreadCount
		if guest.LastActivityAt.After(target.LastActivityAt) {
			target.LastActivityAt = guest.LastActivityAt
		}
	} else {
		guest.Key = key
		guest.DisplayName = display
		r.convs[key] = guest
	}

	for cid, k := range r.keyByClientID {
		if k == prev {
			r.keyByClientID[cid] = key
		}
	}
	if r.selected == prev {
		r.selected = key
		r.convs[key].UnreadCount = 0
	}
}

// Select makes key the selected conversation and clears its unread count.
func (r *Router) Select(key string) bool {
	found := false
	r.mutate(func() string {
		conv, ok := r.convs[key]
		if !ok {
			return ""
		}
		found = true
		r.selected = key
		conv.UnreadCount = 0
		r.keyByClientID[conv.ClientID] = key
		return key
	})
	return found
}

// Remove deletes a conversation. When it was selected, the most recently active
// remaining conversation becomes selected.
func (r *Router) Remove(key string) bool {
	found := false
	r.mutate(func() string {
		if _, ok := r.convs[key]; !ok {
			return ""
		}
		found = true
		delete(r.convs, key)
		for cid, k := range r.keyByClientID {
			if k == key {
				delete(r.keyByClientID, cid)
			}
		}

		if r.selected != key {
			return ""
		}
		r.selected = ""
		if next := r.mostRecentLocked(); next != nil {
			r.selected = next.Key
			next.UnreadCount = 0
			return next.Key
		}
		return ""
	})
	return found
}

// ReplyTarget returns the client id replies in conversation key are addressed to and
// pins that client id to key, so the broadcast copy routes back here.
func (r *Router) ReplyTarget(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[key]
	if !ok || conv.ClientID == "" {
		return "", false
	}
	r.keyByClientID[conv.ClientID] = key
	return conv.ClientID, true
}

// AppendLocal appends an optimistically rendered reply to conversation key.
func (r *Router) AppendLocal(key, content, sender string, at time.Time) bool {
	found := false
	r.mutate(func() string {
		conv, ok := r.convs[key]
		if !ok {
			return ""
		}
		found = true
		conv.Messages = append(conv.Messages, MessageItem{
			ID:           r.newID(),
			Origin:       OriginLocal,
			Type:         wire.EventChat,
			Content:      content,
			At:           at,
			Sender:       sender,
			FromOperator: true,
		})
		conv.LastActivityAt = at
		return key
	})
	return found
}

// Selected returns the selected conversation key, or "".
func (r *Router) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// Conversation returns a copy of one conversation.
func (r *Router) Conversation(key string) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.convs[key]
	if !ok {
		return Conversation{}, false
	}
	return cloneConversation(conv), true
}

// Conversations returns a copy of all conversations, most recently active first.
func (r *Router) Conversations() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// mutate runs fn under the state lock and publishes the resulting state. fn returns
// the key of a conversation that received content, or "".
func (r *Router) mutate(fn func() string) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	touched := fn()
	list := r.snapshotLocked()
	selected := r.selected
	r.mu.Unlock()

	r.list.Set(list)
	if r.selection.Get() != selected {
		r.selection.Set(selected)
	}
	if touched != "" && touched == selected {
		r.refresh.Update(func(n uint64) uint64 { return n + 1 })
	}
}

func (r *Router) mostRecentLocked() *Conversation {
	var best *Conversation
	for _, c := range r.convs {
		if best == nil || c.LastActivityAt.After(best.LastActivityAt) ||
			(c.LastActivityAt.Equal(best.LastActivityAt) && c.Key < best.Key) {
			best = c
		}
	}
	return best
}

func (r *Router) snapshotLocked() []Conversation {
	out := make([]Conversation, 0, len(r.convs))
	for _, c := range r.convs {
		out = append(out, cloneConversation(c))
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.LastActivityAt.Compare(a.LastActivityAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

func cloneConversation(c *Conversation) Conversation {
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return out
}

// mergeMessages interleaves two histories by time. Each side keeps its own order and a
// wins ties.
func mergeMessages(a, b []MessageItem) []MessageItem {
	out := make([]MessageItem, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].At.Before(a[i].At) {
			out = append(out, b[j])
			j++
			continue
		}
		out = append(out, a[i])
		i++
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func participantLabel(ev wire.ChatEvent, key string) string {
	if strings.HasPrefix(key, userKeyPrefix) {
		return ev.SenderName()
	}
	return GuestLabel(ev.ClientID)
}
