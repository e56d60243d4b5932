package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"delphi/internal/domain/task"
	"delphi/internal/tasks"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// handlers maps HTTP requests to manager operations. The layer is thin:
// decode, call, encode; all semantics live in the manager.
type handlers struct {
	manager *tasks.Manager
	log     *logger.Logger
}

func newHandlers(manager *tasks.Manager) *handlers {
	return &handlers{
		manager: manager,
		log:     logger.Get().With("component", "api"),
	}
}

type submitTaskRequest struct {
	OwnerRef     string   `json:"owner_ref"`
	Symbol       string   `json:"symbol"`
	Market       string   `json:"market"`
	DepthLevel   int      `json:"depth_level"`
	Capabilities []string `json:"capabilities"`
}

func (r submitTaskRequest) toDomain() tasks.SubmitRequest {
	return tasks.SubmitRequest{
		OwnerRef:     r.OwnerRef,
		Symbol:       r.Symbol,
		Market:       r.Market,
		DepthLevel:   r.DepthLevel,
		Capabilities: r.Capabilities,
	}
}

type submitBatchRequest struct {
	OwnerRef string              `json:"owner_ref"`
	Title    string              `json:"title"`
	Items    []submitTaskRequest `json:"items"`
}

func (h *handlers) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.NewValidationError("body", "invalid JSON", err.Error()))
		return
	}

	t, err := h.manager.Submit(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, t)
}

func (h *handlers) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.NewValidationError("body", "invalid JSON", err.Error()))
		return
	}

	items := make([]tasks.SubmitRequest, len(req.Items))
	for i, item := range req.Items {
		if item.OwnerRef == "" {
			item.OwnerRef = req.OwnerRef
		}
		items[i] = item.toDomain()
	}

	b, members, err := h.manager.SubmitBatch(r.Context(), tasks.BatchRequest{
		OwnerRef: req.OwnerRef,
		Title:    req.Title,
		Items:    items,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"batch": b,
		"tasks": members,
	})
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		h.writeError(w, errors.NewValidationError("owner", "must not be empty", owner))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, errors.NewValidationError("limit", "must be a positive integer", raw))
			return
		}
		limit = n
	}

	list, err := h.manager.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	t, err := h.manager.GetStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.manager.Cancel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation_requested"})
}

func (h *handlers) getReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	rep, err := h.manager.GetReport(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) getProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	events, err := h.manager.Broadcaster().Replay(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

func (h *handlers) getBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	b, err := h.manager.GetBatchStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

func (h *handlers) getBatchTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	members, err := h.manager.ListBatchTasks(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, members)
}

func (h *handlers) listZombies(w http.ResponseWriter, r *http.Request) {
	threshold, err := h.threshold(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	zombies, err := h.manager.ListZombies(r.Context(), threshold)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, zombies)
}

func (h *handlers) cleanupZombies(w http.ResponseWriter, r *http.Request) {
	threshold, err := h.threshold(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	reaped, err := h.manager.CleanupZombies(r.Context(), threshold)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"reaped": reaped})
}

func (h *handlers) markFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Reason == "" {
		h.writeError(w, errors.NewValidationError("reason", "must not be empty", body.Reason))
		return
	}

	if err := h.manager.MarkFailed(r.Context(), id, body.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(task.StatusFailed)})
}

// defaultZombieThreshold mirrors the reaper's default when the admin
// request does not specify one
const defaultZombieThreshold = 10 * time.Minute

func (h *handlers) threshold(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return defaultZombieThreshold, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.NewValidationError("threshold", "must be a positive duration", raw)
	}
	return d, nil
}

func (h *handlers) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errors.NewValidationError("id", "must be a UUID", r.PathValue("id")))
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var vErr *errors.ValidationError
	switch {
	case errors.As(err, &vErr):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrTaskNotFound), errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrUnknownMarket):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrTaskTerminal):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrQueueFull):
		status = http.StatusTooManyRequests
	}

	if status == http.StatusInternalServerError {
		h.log.Errorf("Request failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
