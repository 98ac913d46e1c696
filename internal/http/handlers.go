package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"playdeck/internal/api"
	"playdeck/internal/core"
	"playdeck/internal/player"
	"playdeck/internal/spotify"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type stateResponse struct {
	core.PlaybackState
	Disallowed  []core.ActionKind         `json:"disallowed_actions"`
	Pending     []string                  `json:"pending"`
	TrueShuffle *player.TrueShuffleStatus `json:"true_shuffle,omitempty"`
}

func (h *handlers) snapshot() stateResponse {
	state := h.deps.State.GetState()
	resp := stateResponse{
		PlaybackState: state,
		Disallowed:    state.DisallowedActions.Sorted(),
		Pending:       []string{},
	}
	for _, f := range h.deps.State.Pending() {
		resp.Pending = append(resp.Pending, f.String())
	}
	if status, ok := h.deps.Player.TrueShuffle(); ok {
		resp.TrueShuffle = &status
	}
	return resp
}

func (h *handlers) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.snapshot())
}

// ready reports 200 once an authoritative state has been received.
func (h *handlers) ready(w http.ResponseWriter, _ *http.Request) {
	if h.deps.State.GetState().LastAuthoritativeUpdateAt.IsZero() {
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{"status": "waiting for playback state", "service": "playdeck"})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ready", "service": "playdeck"})
}

func (h *handlers) playerEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, err)
		return
	}

	patch, err := spotify.ParsePlayerEvent(raw)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Events.Publish(patch); err != nil {
		h.logger.Warn("Dropped player event", zap.Error(err))
		writeError(w, h.logger, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// command adapts an argument-less controller command. Dispatch failures are
// never reported here; only pre-dispatch rejections are.
func (h *handlers) command(run func(PlayerControl, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.respondCommand(w, run(h.deps.Player, r.Context()))
	}
}

func (h *handlers) respondCommand(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, h.logger, errorStatus(err), err)
		return
	}
	writeJSON(w, h.logger, http.StatusAccepted, h.snapshot())
}

func (h *handlers) seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PositionMs *int `json:"position_ms"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.PositionMs == nil {
		writeError(w, h.logger, http.StatusBadRequest, errors.New("position_ms is required"))
		return
	}
	h.respondCommand(w, h.deps.Player.Seek(r.Context(), *body.PositionMs))
}

func (h *handlers) volume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VolumePercent *int `json:"volume_percent"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.VolumePercent == nil {
		writeError(w, h.logger, http.StatusBadRequest, errors.New("volume_percent is required"))
		return
	}
	h.respondCommand(w, h.deps.Player.SetVolume(r.Context(), *body.VolumePercent))
}

func (h *handlers) shuffle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State *bool `json:"state"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.State == nil {
		writeError(w, h.logger, http.StatusBadRequest, errors.New("state is required"))
		return
	}
	h.respondCommand(w, h.deps.Player.ToggleShuffle(r.Context(), *body.State))
}

func (h *handlers) repeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	mode, ok := core.ParseRepeatMode(body.State)
	if !ok {
		writeError(w, h.logger, http.StatusBadRequest, errors.New("state must be off, track or context"))
		return
	}
	h.respondCommand(w, h.deps.Player.SetRepeat(r.Context(), mode))
}

func (h *handlers) device(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceID string `json:"device_id"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.respondCommand(w, h.deps.Player.TransferPlayback(r.Context(), body.DeviceID))
}

func (h *handlers) enableTrueShuffle(w http.ResponseWriter, r *http.Request) {
	status, err := h.deps.Player.EnableTrueShuffle(r.Context())
	if err != nil {
		writeError(w, h.logger, errorStatus(err), err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, status)
}

func (h *handlers) disableTrueShuffle(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Player.DisableTrueShuffle(r.Context()); err != nil {
		writeError(w, h.logger, errorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := core.SearchQuery{
		Query:  query.Get("q"),
		Limit:  intParam(query.Get("limit")),
		Offset: intParam(query.Get("offset")),
	}
	if types := query.Get("type"); types != "" {
		q.Types = strings.Split(types, ",")
	}

	result, err := h.deps.Catalog.Search(r.Context(), q)
	if err != nil {
		writeError(w, h.logger, errorStatus(err), err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, result)
}

func (h *handlers) playlists(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := h.deps.Catalog.UserPlaylists(r.Context(), intParam(query.Get("limit")), intParam(query.Get("offset")))
	if err != nil {
		writeError(w, h.logger, errorStatus(err), err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, page)
}

func (h *handlers) devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.deps.Catalog.Devices(r.Context())
	if err != nil {
		writeError(w, h.logger, errorStatus(err), err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string][]core.Device{"devices": devices})
}

func (h *handlers) queue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.deps.Catalog.Queue(r.Context())
	if err != nil {
		writeError(w, h.logger, errorStatus(err), err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, queue)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err)
		return false
	}
	return true
}

// errorStatus maps controller and pipeline errors to HTTP statuses. Upstream
// client errors keep their status; a superseded request is a conflict.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, player.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, player.ErrActionDisallowed), errors.Is(err, player.ErrNoActiveContext):
		return http.StatusConflict
	case errors.Is(err, player.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, spotify.ErrUnsupportedContext):
		return http.StatusUnprocessableEntity
	case errors.Is(err, api.ErrAuthUnavailable):
		return http.StatusUnauthorized
	case errors.Is(err, api.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, api.ErrNetworkError):
		return http.StatusBadGateway
	}
	if status := api.StatusOf(err); status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, err error) {
	writeJSON(w, logger, status, errorResponse{Error: err.Error()})
}
