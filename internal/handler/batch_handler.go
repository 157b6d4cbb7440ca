package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/domain"
	"recipe-sync-server/internal/service"
	"recipe-sync-server/pkg/response"
)

type BatchHandler struct {
	batches *service.BatchService
	log     *slog.Logger
}

func NewBatchHandler(batches *service.BatchService, log *slog.Logger) *BatchHandler {
	return &BatchHandler{
		batches: batches,
		log:     log,
	}
}

func (h *BatchHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req domain.SubmitBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.batches.Submit(r.Context(), userID, &req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, res)
}

func (h *BatchHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var since time.Time
	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		var err error
		since, err = time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			response.FieldError(w, "since", "must be an RFC 3339 timestamp")
			return
		}
	}

	status, err := h.batches.Status(r.Context(), userID, r.URL.Query().Get("device_id"), since)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, status)
}

// Changes serves the change feed. Without since_version each collection
// resumes from the device's tracked version.
func (h *BatchHandler) Changes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	var collections []string
	for _, c := range strings.Split(query.Get("collections"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			collections = append(collections, c)
		}
	}
	if len(collections) == 0 {
		response.FieldError(w, "collections", "is required")
		return
	}

	var sinceVersion *int64
	if raw := query.Get("since_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.FieldError(w, "since_version", "must be an integer")
			return
		}
		sinceVersion = &v
	}

	syncTime := time.Now().UTC()
	changes, err := h.batches.CollectChanges(r.Context(), userID, query.Get("device_id"), collections, sinceVersion)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, domain.ChangesResponse{
		Changes:  changes,
		SyncTime: syncTime,
	})
}
