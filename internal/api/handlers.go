package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tradejournal/internal/auth"
	"tradejournal/internal/backend"
	"tradejournal/pkg/journal"
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireOwner resolves the bearer token and stores the owner in the
// request context.
func (h *handler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.verifier == nil {
			writeErrorResponse(w, r, http.StatusUnauthorized,
				journal.NewError(journal.ErrCodeUnauthorized, "authentication is not configured"))
			return
		}
		owner, err := h.verifier.Verify(r.Context(), auth.BearerToken(r))
		if err != nil {
			writeErrorResponse(w, r, http.StatusUnauthorized,
				journal.WrapError(journal.ErrCodeUnauthorized, "unauthorized", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithOwner(r.Context(), owner)))
	})
}

func ownerOf(r *http.Request) string {
	owner, _ := auth.OwnerFrom(r.Context())
	return owner
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, meResponse{UserID: ownerOf(r)})
}

func (h *handler) listTrades(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context(), ownerOf(r))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	rows := make([]journal.Row, len(records))
	for i, rec := range records {
		rows[i] = journal.ToWire(rec)
	}
	writeSuccess(w, rows)
}

func (h *handler) createTrade(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	row, err := decodeRow(r)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	if rowOwner := journal.RowOwner(row); rowOwner != "" && rowOwner != owner {
		writeErrorResponse(w, r, http.StatusBadRequest,
			journal.NewError(journal.ErrCodeInvalidInput, "user_id does not match the caller"))
		return
	}
	fields, err := journal.FieldsFromWire(row)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	rec, err := h.svc.Create(r.Context(), owner, fields)
	h.metrics.ObserveWrite("insert", err)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, journal.ToWire(rec))
}

func (h *handler) replaceTrade(w http.ResponseWriter, r *http.Request) {
	owner := ownerOf(r)
	id := chi.URLParam(r, "id")
	row, err := decodeRow(r)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	if _, ok := row[journal.KeyID]; ok {
		rowID, err := journal.RowID(row)
		if err != nil || rowID != id {
			writeErrorResponse(w, r, http.StatusBadRequest,
				journal.NewError(journal.ErrCodeInvalidInput, "id does not match the path"))
			return
		}
	}
	row[journal.KeyID] = id
	if journal.RowOwner(row) == "" {
		row[journal.KeyOwner] = owner
	}
	rec, err := journal.FromWire(row)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	out, err := h.svc.Replace(r.Context(), owner, rec)
	h.metrics.ObserveWrite("update", err)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, journal.ToWire(out))
}

func (h *handler) deleteTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.svc.Delete(r.Context(), ownerOf(r), id)
	h.metrics.ObserveWrite("delete", err)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccessWithMessage(w, "deleted", map[string]string{"id": id})
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), ownerOf(r))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, sum)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	hs, ok := h.svc.Store().(backend.HistoryStore)
	if !ok {
		writeErrorResponse(w, r, http.StatusNotImplemented,
			journal.NewError(journal.ErrCodeUnsupported, "storage driver keeps no change history"))
		return
	}
	query := r.URL.Query()
	limit, offset := normalizeLimitOffset(
		parseIntDefault(query.Get("limit"), 100),
		parseIntDefault(query.Get("offset"), 0),
	)
	entries, err := hs.History(r.Context(), ownerOf(r), limit, offset)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, historyResponse{Items: entries, Limit: limit, Offset: offset})
}

// decodeRow reads a wire row. Numbers stay json.Number so amounts keep
// their decimal text.
func decodeRow(r *http.Request) (journal.Row, error) {
	var row journal.Row
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&row); err != nil {
		return nil, journal.WrapError(journal.ErrCodeInvalidInput, "invalid JSON body", err)
	}
	if row == nil {
		return nil, journal.NewError(journal.ErrCodeInvalidInput, "body must be a JSON object")
	}
	return row, nil
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func normalizeLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
