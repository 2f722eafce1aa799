package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"brandgen/internal/broadcast"
	"brandgen/internal/domain"
)

const entityBacklog = 20

func wantsResume(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("resume")) {
	case "1", "true", "yes":
		return true
	}
	return r.Header.Get("Last-Event-ID") != ""
}

// JobEvents streams one job over SSE. The stream opens with either the hub's
// in-grace snapshot (on resume) or the stored job state, and closes after the
// job's terminal event.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	jobID := chi.URLParam(r, "id")
	if _, err := a.loadJobForUser(r.Context(), jobID, userID); err != nil {
		a.fail(w, r, err)
		return
	}
	sub := a.Hub.Subscribe(domain.JobRoom(jobID))
	defer a.Hub.Unsubscribe(sub)

	flusher, err := broadcast.PrepareSSE(w)
	if err != nil {
		a.error(w, http.StatusInternalServerError, domain.CodeInternal, err.Error())
		return
	}
	initial, err := a.initialEvents(r.Context(), sub, wantsResume(r), []string{jobID}, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("sse: load job state")
	}
	for _, ev := range initial {
		if err := broadcast.WriteSSE(w, ev); err != nil {
			return
		}
		sub.Seed(ev)
		flusher.Flush()
		if ev.Terminal() {
			return
		}
	}
	_ = broadcast.StreamSSE(r.Context(), w, flusher, sub, broadcast.StreamOptions{
		Heartbeat:       a.Heartbeat,
		CloseOnTerminal: jobID,
	})
}

// EntityEvents streams every job of one entity over SSE.
func (a *App) EntityEvents(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	entityID := chi.URLParam(r, "id")
	if err := a.authorizeEntity(r.Context(), entityID, userID); err != nil {
		a.fail(w, r, err)
		return
	}
	sub := a.Hub.Subscribe(domain.EntityRoom(entityID))
	defer a.Hub.Unsubscribe(sub)

	flusher, err := broadcast.PrepareSSE(w)
	if err != nil {
		a.error(w, http.StatusInternalServerError, domain.CodeInternal, err.Error())
		return
	}
	initial, err := a.initialEvents(r.Context(), sub, wantsResume(r), nil, []string{entityID})
	if err != nil {
		a.Logger.Warn().Err(err).Str("entity_id", entityID).Msg("sse: load entity jobs")
	}
	for _, ev := range initial {
		if err := broadcast.WriteSSE(w, ev); err != nil {
			return
		}
		sub.Seed(ev)
	}
	flusher.Flush()
	_ = broadcast.StreamSSE(r.Context(), w, flusher, sub, broadcast.StreamOptions{Heartbeat: a.Heartbeat})
}

// WebSocket subscribes to the rooms named by repeated room query parameters,
// e.g. /v1/ws?room=job:<id>&room=entity:<id>.
func (a *App) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	rooms := r.URL.Query()["room"]
	if len(rooms) == 0 {
		a.fail(w, r, domain.Invalid("room", "at least one room is required"))
		return
	}
	var jobIDs, entityIDs []string
	for _, room := range rooms {
		kind, id, ok := strings.Cut(room, ":")
		if !ok || id == "" {
			a.fail(w, r, domain.Invalid("room", "expected job:<id> or entity:<id>"))
			return
		}
		switch kind {
		case "job":
			if _, err := a.loadJobForUser(r.Context(), id, userID); err != nil {
				a.fail(w, r, err)
				return
			}
			jobIDs = append(jobIDs, id)
		case "entity":
			if err := a.authorizeEntity(r.Context(), id, userID); err != nil {
				a.fail(w, r, err)
				return
			}
			entityIDs = append(entityIDs, id)
		default:
			a.fail(w, r, domain.Invalid("room", "expected job:<id> or entity:<id>"))
			return
		}
	}

	conn, err := a.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		return
	}
	defer conn.Close()

	sub := a.Hub.Subscribe(rooms...)
	defer a.Hub.Unsubscribe(sub)

	initial, err := a.initialEvents(r.Context(), sub, wantsResume(r), jobIDs, entityIDs)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("ws: load initial state")
	}
	closeOn := ""
	if len(rooms) == 1 && len(jobIDs) == 1 {
		closeOn = jobIDs[0]
	}
	for _, ev := range initial {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		sub.Seed(ev)
		if closeOn != "" && ev.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
	if err := broadcast.StreamWebSocket(r.Context(), conn, sub, broadcast.StreamOptions{
		Heartbeat:       a.Heartbeat,
		CloseOnTerminal: closeOn,
	}); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		a.Logger.Debug().Err(err).Str("user_id", userID).Msg("ws: stream ended")
	}
}

// initialEvents decides what a new stream starts with. On resume the hub
// replays its in-grace snapshots into sub and nothing is returned; when it has
// none, or the client did not ask to resume, the stored job states are
// returned instead.
func (a *App) initialEvents(ctx context.Context, sub *broadcast.Subscription, resume bool, jobIDs, entityIDs []string) ([]domain.Event, error) {
	if resume && a.Hub.Resume(sub) > 0 {
		return nil, nil
	}
	var out []domain.Event
	for _, id := range jobIDs {
		job, err := a.Jobs.Get(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, domain.EventFromJob(job))
	}
	for _, id := range entityIDs {
		jobs, err := a.Jobs.ListByEntity(ctx, id, entityBacklog)
		if err != nil {
			return out, err
		}
		for _, job := range jobs {
			if job.Status.Terminal() {
				continue
			}
			out = append(out, domain.EventFromJob(job))
		}
	}
	return out, nil
}

// authorizeEntity admits a user to an entity room only when the entity
// already carries a job of theirs and none of anyone else's. Entities with no
// jobs are unknown.
func (a *App) authorizeEntity(ctx context.Context, entityID, userID string) error {
	if entityID == "" {
		return domain.Invalid("entityID", "required")
	}
	jobs, err := a.Jobs.ListByEntity(ctx, entityID, 1)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return domain.ErrNotFound
	}
	for _, j := range jobs {
		if j.OwnerID != userID {
			return domain.ErrNotFound
		}
	}
	return nil
}
