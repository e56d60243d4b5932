package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"delphi/internal/domain/task"
	"delphi/internal/events"
	"delphi/pkg/logger"
)

// progressFeed serves the websocket progress streams. On connect it
// subscribes live first, then replays the durable log, then streams live
// events newer than the replayed tail, so a client sees every event
// exactly once in order regardless of when it connects.
type progressFeed struct {
	broadcaster *events.Broadcaster
	upgrader    websocket.Upgrader
	log         *logger.Logger
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

func newProgressFeed(broadcaster *events.Broadcaster) *progressFeed {
	return &progressFeed{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.Get().With("component", "progress_feed"),
	}
}

func (f *progressFeed) serveTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	live, release := f.broadcaster.SubscribeTask(id)
	defer release()

	replay, err := f.broadcaster.Replay(r.Context(), id)
	if err != nil {
		f.log.Errorf("Replay failed for task %s: %v", id, err)
		http.Error(w, "replay failed", http.StatusInternalServerError)
		return
	}

	f.stream(w, r, replay, live)
}

func (f *progressFeed) serveBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid batch id", http.StatusBadRequest)
		return
	}

	live, release := f.broadcaster.SubscribeBatch(id)
	defer release()

	replay, err := f.broadcaster.ReplayBatch(r.Context(), id)
	if err != nil {
		f.log.Errorf("Replay failed for batch %s: %v", id, err)
		http.Error(w, "replay failed", http.StatusInternalServerError)
		return
	}

	f.stream(w, r, replay, live)
}

// stream upgrades the connection, writes the replayed history, then
// relays live events. Events already covered by the replay are skipped
// by per-task sequence number.
func (f *progressFeed) stream(w http.ResponseWriter, r *http.Request, replay []task.ProgressEvent, live <-chan task.ProgressEvent) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	lastSeq := make(map[uuid.UUID]int64)
	for i := range replay {
		if err := f.write(conn, &replay[i]); err != nil {
			return
		}
		lastSeq[replay[i].TaskID] = replay[i].Seq
	}

	// Reader goroutine: drain control frames, detect disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(wsPingInterval)
	defer pings.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-pings.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= lastSeq[ev.TaskID] {
				continue
			}
			if err := f.write(conn, &ev); err != nil {
				return
			}
			lastSeq[ev.TaskID] = ev.Seq
		}
	}
}

func (f *progressFeed) write(conn *websocket.Conn, ev *task.ProgressEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
