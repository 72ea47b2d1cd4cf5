package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/auth"
	"github.com/mmynk/eventlist/internal/middleware"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/realtime"
	"github.com/mmynk/eventlist/internal/storage"
)

const (
	hubWriteTimeout = 10 * time.Second
	// audienceTTL bounds how long a tracked audience waits for its relay.
	audienceTTL = time.Minute
)

// Hub relays realtime messages between the connections of users who share
// events. The event store is the authority on who may receive what: ownerId
// and sharedWith on relayed updates are always taken from the stored event.
type Hub struct {
	events   storage.EventStore
	jwt      *auth.JWTManager
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[string]map[*peer]struct{}
	audience map[models.ID]tracked
	lastTs   int64
	now      func() time.Time
}

// tracked is the set of identities a write was visible to, kept until the
// writer's relay arrives or the entry expires.
type tracked struct {
	identities []string
	expires    time.Time
}

type peer struct {
	identity string
	ws       *websocket.Conn
	writeMu  sync.Mutex
}

// NewHub creates a hub. jwt may be nil to accept ?userId= without a token.
func NewHub(events storage.EventStore, jwt *auth.JWTManager, metrics *Metrics) *Hub {
	return &Hub{
		events:  events,
		jwt:     jwt,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:    make(map[string]map[*peer]struct{}),
		audience: make(map[models.ID]tracked),
		now:      time.Now,
	}
}

// Track records identities that held access to an event before a write, so
// the next relayed message for it also reaches users who just lost access.
// Entries whose relay never arrives expire after audienceTTL.
func (h *Hub) Track(id models.ID, identities ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for other, a := range h.audience {
		if now.After(a.expires) {
			delete(h.audience, other)
		}
	}

	merged := h.audience[id].identities
	for _, identity := range identities {
		if n := access.Normalize(identity); n != "" && !slices.Contains(merged, n) {
			merged = append(merged, n)
		}
	}
	h.audience[id] = tracked{identities: merged, expires: now.Add(audienceTTL)}
}

func (h *Hub) takeAudience(id models.ID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.audience[id]
	delete(h.audience, id)
	if !ok || h.now().After(a.expires) {
		return nil
	}
	return a.identities
}

// Tracked returns the number of audiences waiting for a relay.
func (h *Hub) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.audience)
}

// Reload asks every connection of the given users to resync.
func (h *Hub) Reload(ctx context.Context, identities ...string) {
	msg, _ := realtime.NewMessage(realtime.TypeEventsReload, struct{}{})
	for _, identity := range identities {
		h.deliver(ctx, access.Normalize(identity), nil, msg)
	}
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := access.Normalize(r.URL.Query().Get("userId"))
	if h.jwt != nil {
		token, err := middleware.TokenFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		claims, err := h.jwt.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if identity != "" && !access.Equal(identity, claims.Identity) {
			writeError(w, http.StatusForbidden, errors.New("userId does not match token"))
			return
		}
		identity = claims.Identity
	}
	if identity == "" {
		writeError(w, http.StatusBadRequest, errors.New("userId is required"))
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "identity", identity, "error", err)
		return
	}
	p := &peer{identity: identity, ws: ws}
	h.register(p)
	defer h.unregister(p)

	slog.Info("Realtime client connected", "identity", identity)
	ctx := context.WithoutCancel(r.Context())
	for {
		var msg realtime.Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Realtime read ended", "identity", identity, "error", err)
			}
			return
		}
		h.handle(ctx, p, msg)
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	set, ok := h.conns[p.identity]
	if !ok {
		set = make(map[*peer]struct{})
		h.conns[p.identity] = set
	}
	set[p] = struct{}{}
	h.mu.Unlock()
	h.metrics.connections.Inc()
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	if set, ok := h.conns[p.identity]; ok {
		delete(set, p)
		if len(set) == 0 {
			delete(h.conns, p.identity)
		}
	}
	h.mu.Unlock()
	p.ws.Close()
	h.metrics.connections.Dec()
	slog.Info("Realtime client disconnected", "identity", p.identity)
}

func (h *Hub) handle(ctx context.Context, from *peer, msg realtime.Message) {
	switch {
	case msg.Type == realtime.TypePing:
		var clientTs int64
		_ = msg.Decode(&clientTs)
		pong, _ := realtime.NewMessage(realtime.TypePong, realtime.Pong{ClientTs: clientTs, ServerTs: time.Now().UnixMilli()})
		if err := from.write(pong); err != nil {
			slog.Debug("Pong failed", "identity", from.identity, "error", err)
		}
	case msg.Type == realtime.TypeEventUpdate:
		var u realtime.EventUpdate
		if err := msg.Decode(&u); err != nil {
			slog.Warn("Dropping malformed update", "identity", from.identity, "error", err)
			return
		}
		h.relayUpdate(ctx, from, u)
	case msg.Type == realtime.TypeEventDelete:
		var d realtime.EventDelete
		if err := msg.Decode(&d); err != nil {
			slog.Warn("Dropping malformed delete", "identity", from.identity, "error", err)
			return
		}
		h.relayDelete(ctx, from, d)
	case msg.Type.IsFriend():
		slog.Debug("Ignoring friend message", "identity", from.identity, "type", msg.Type)
	default:
		slog.Debug("Ignoring message", "identity", from.identity, "type", msg.Type)
	}
}

// nextTs returns a strictly increasing server timestamp in milliseconds.
func (h *Hub) nextTs() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts := max(time.Now().UnixMilli(), h.lastTs+1)
	h.lastTs = ts
	return ts
}

func (h *Hub) relayUpdate(ctx context.Context, from *peer, u realtime.EventUpdate) {
	ev, err := h.events.GetEvent(ctx, u.EventID)
	if err != nil {
		slog.Debug("Dropping update for unknown event", "event_id", u.EventID, "error", err)
		return
	}
	if !access.CanView(ev, from.identity) {
		slog.Warn("Dropping update from user without access", "event_id", u.EventID, "identity", from.identity)
		return
	}

	u.FromUserID = from.identity
	u.ServerTs = h.nextTs()
	u.EventData.OwnerID = &ev.OwnerID
	sharedWith := slices.Clone(ev.SharedWith)
	if sharedWith == nil {
		sharedWith = []string{}
	}
	u.EventData.SharedWith = &sharedWith

	full, _ := realtime.NewMessage(realtime.TypeEventUpdate, u)
	revoke, _ := realtime.NewMessage(realtime.TypeEventUpdate, realtime.EventUpdate{
		EventID:    u.EventID,
		FromUserID: u.FromUserID,
		ServerTs:   u.ServerTs,
		EventData:  models.EventPatch{OwnerID: &ev.OwnerID, SharedWith: &sharedWith},
	})

	recipients := holders(ev)
	for _, identity := range h.takeAudience(u.EventID) {
		if !slices.Contains(recipients, identity) {
			recipients = append(recipients, identity)
		}
	}
	for _, identity := range recipients {
		if access.CanView(ev, identity) {
			h.deliver(ctx, identity, from, full)
		} else {
			h.deliver(ctx, identity, from, revoke)
		}
	}
}

func (h *Hub) relayDelete(ctx context.Context, from *peer, d realtime.EventDelete) {
	d.FromUserID = from.identity
	del, _ := realtime.NewMessage(realtime.TypeEventDelete, d)

	ev, err := h.events.GetEvent(ctx, d.EventID)
	if err == nil {
		// The sender only left the event: their other devices drop it, the
		// remaining holders see the shorter participant list.
		h.deliver(ctx, from.identity, from, del)
		if access.CanView(ev, from.identity) {
			return
		}
		update, _ := realtime.NewMessage(realtime.TypeEventUpdate, realtime.EventUpdate{
			EventID:    ev.ID,
			EventData:  models.PatchFrom(ev),
			FromUserID: from.identity,
			ServerTs:   h.nextTs(),
		})
		for _, identity := range holders(ev) {
			h.deliver(ctx, identity, from, update)
		}
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		slog.Error("Failed to load event for delete relay", "event_id", d.EventID, "error", err)
		return
	}

	audience := h.takeAudience(d.EventID)
	if len(audience) == 0 {
		// Never saved, so nobody else can hold it.
		h.deliver(ctx, from.identity, from, del)
		return
	}
	for _, identity := range d.Participants {
		if n := access.Normalize(identity); n != "" && !slices.Contains(audience, n) {
			audience = append(audience, n)
		}
	}
	for _, identity := range audience {
		h.deliver(ctx, identity, from, del)
	}
}

// deliver writes msg to every connection of identity except skip.
func (h *Hub) deliver(_ context.Context, identity string, skip *peer, msg realtime.Message) {
	h.mu.Lock()
	targets := make([]*peer, 0, len(h.conns[identity]))
	for p := range h.conns[identity] {
		if p != skip {
			targets = append(targets, p)
		}
	}
	h.mu.Unlock()

	for _, p := range targets {
		if err := p.write(msg); err != nil {
			slog.Debug("Relay failed", "identity", identity, "type", msg.Type, "error", err)
			continue
		}
		h.metrics.relayed.WithLabelValues(string(msg.Type)).Inc()
	}
}

func (p *peer) write(msg realtime.Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.ws.SetWriteDeadline(time.Now().Add(hubWriteTimeout)); err != nil {
		return err
	}
	return p.ws.WriteJSON(msg)
}

// holders returns the owner and sharedWith identities, normalized.
func holders(ev *models.Event) []string {
	out := []string{access.Normalize(ev.OwnerID)}
	for _, id := range ev.SharedWith {
		if n := access.Normalize(id); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
