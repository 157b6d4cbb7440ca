package handler

import (
	"net/http"
	"strconv"

	"golang.org/x/exp/slog"

	"recipe-sync-server/internal/service"
	"recipe-sync-server/pkg/response"

	"github.com/gorilla/mux"
)

const collectionVersionHeader = "X-Collection-Version"

// DocumentHandler is read-only; documents change through operations.
type DocumentHandler struct {
	documents *service.DocumentService
	log       *slog.Logger
}

func NewDocumentHandler(documents *service.DocumentService, log *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		documents: documents,
		log:       log,
	}
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	doc, err := h.documents.Get(r.Context(), userID, vars["collection"], vars["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	response.Success(w, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	collection := mux.Vars(r)["collection"]

	version, err := h.documents.Version(r.Context(), userID, collection)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	docs, err := h.documents.List(r.Context(), userID, collection)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	w.Header().Set(collectionVersionHeader, strconv.FormatInt(version, 10))
	response.Success(w, docs)
}
