package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/hlog"

	"github.com/calvinalkan/tagstore/internal/fs"
	"github.com/calvinalkan/tagstore/internal/store"
	"github.com/calvinalkan/tagstore/internal/tags"
)

// Response messages.
const (
	msgInvalidGroup   = "Invalid group ID format."
	msgMalformedBody  = "Missing or malformed request body. Expected JSON array."
	msgBodyNotArray   = "Request body must be an array of tags."
	msgTagNotScalar   = "Tags must be strings, numbers or booleans."
	msgTagLineBreak   = "Tags must not contain line breaks."
	msgNoValidTags    = "No valid tags provided."
	msgBusy           = "Server busy processing tags for this group."
	msgNotReady       = "Tag store is not ready."
	msgInternal       = "Internal Server Error."
	msgNotDurable     = "Tags were added but could not be written to disk yet."
	retryAfterSeconds = "1"
)

type addResponse struct {
	Message    string   `json:"message"`
	AddedCount int      `json:"addedCount"`
	NewlyAdded []string `json:"newlyAdded"`
	Warning    string   `json:"warning,omitempty"`
}

type noTagsResponse struct {
	Message    string `json:"message"`
	AddedCount int    `json:"addedCount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupId")

	got, found, err := s.store.Get(groupID)
	if err != nil {
		s.writeStoreError(w, r, err)

		return
	}

	if !found {
		writeJSON(w, http.StatusNotFound, []string{})

		return
	}

	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.Groups()
	if err != nil {
		s.writeStoreError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("groupId")

	if !tags.ValidGroupID(groupID) {
		writeError(w, http.StatusBadRequest, msgInvalidGroup)

		return
	}

	candidates, err := decodeCandidates(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		msg := msgMalformedBody

		switch {
		case errors.Is(err, errBodyNotArray):
			msg = msgBodyNotArray
		case errors.Is(err, tags.ErrInvalidTag):
			msg = msgTagNotScalar
		}

		writeError(w, http.StatusBadRequest, msg)

		return
	}

	normalized, err := tags.Normalize(candidates)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgTagLineBreak)

		return
	}

	if len(normalized) == 0 {
		writeJSON(w, http.StatusOK, noTagsResponse{Message: msgNoValidTags})

		return
	}

	res, err := s.store.AddTags(r.Context(), groupID, normalized)

	switch {
	case err == nil:
	case errors.Is(err, store.ErrDurability) && errors.Is(err, fs.ErrLockContended):
		hlog.FromRequest(r).Warn().Err(err).Str("group", groupID).Msg("add: lock contended")
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, msgBusy)

		return
	case errors.Is(err, store.ErrDurability):
		hlog.FromRequest(r).Warn().Err(err).Str("group", groupID).Msg("add: not durable")
	default:
		s.writeStoreError(w, r, err)

		return
	}

	resp := addResponse{
		Message:    fmt.Sprintf("Processed %d tags. Added %d new unique tags.", len(normalized), res.AddedCount),
		AddedCount: res.AddedCount,
		NewlyAdded: res.AddedTags,
	}

	if resp.NewlyAdded == nil {
		resp.NewlyAdded = []string{}
	}

	if err != nil {
		resp.Warning = msgNotDurable
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.store.State()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if state != store.StateWatching {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, state.String()+"\n")

		return
	}

	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tags.ErrInvalidGroupID):
		writeError(w, http.StatusBadRequest, msgInvalidGroup)
	case errors.Is(err, tags.ErrInvalidTag):
		writeError(w, http.StatusBadRequest, msgTagLineBreak)
	case errors.Is(err, store.ErrNotReady), errors.Is(err, store.ErrClosed):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, http.StatusServiceUnavailable, msgNotReady)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("store error")
		writeError(w, http.StatusInternalServerError, msgInternal)
	}
}

var (
	errBodyMalformed = errors.New("malformed body")
	errBodyNotArray  = errors.New("body is not an array")
)

// decodeCandidates reads a JSON array body. Strings are kept, other scalars
// are stringified.
func decodeCandidates(body io.Reader) ([]string, error) {
	var raw any

	dec := json.NewDecoder(body)

	err := dec.Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBodyMalformed, err)
	}

	if dec.More() {
		return nil, errBodyMalformed
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, errBodyNotArray
	}

	out := make([]string, 0, len(items))

	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			out = append(out, strconv.FormatBool(v))
		case nil:
			out = append(out, "null")
		default:
			return nil, fmt.Errorf("%w: %T", tags.ErrInvalidTag, v)
		}
	}

	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
