package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/reelsmith/internal/db"
	"github.com/bobarin/reelsmith/internal/effects"
	"github.com/bobarin/reelsmith/internal/models"
	"github.com/bobarin/reelsmith/internal/queue"
	"github.com/bobarin/reelsmith/internal/render"
)

// Store is the slice of the database the handlers need.
type Store interface {
	CreateRender(ctx context.Context, render *models.Render) error
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	ListRenders(ctx context.Context, status string, limit int) ([]models.Render, error)
	FailRender(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// Jobs enqueues renders and reports their live progress.
type Jobs interface {
	EnqueueRender(ctx context.Context, renderID uuid.UUID) error
	LastProgress(ctx context.Context, renderID uuid.UUID) (*queue.Progress, error)
}

type Handler struct {
	db            Store
	queue         Jobs
	defaultPreset string
	mediaRoot     string // scene media must live under this directory
	logger        zerolog.Logger
}

func NewHandler(database Store, q Jobs, defaultPreset, mediaRoot string, logger zerolog.Logger) *Handler {
	return &Handler{
		db:            database,
		queue:         q,
		defaultPreset: defaultPreset,
		mediaRoot:     mediaRoot,
		logger:        logger.With().Str("component", "api").Logger(),
	}
}

// CreateRenderRequest is the body of POST /v1/renders.
type CreateRenderRequest struct {
	VideoID string               `json:"video_id"`
	Scenes  []models.Scene       `json:"scenes"`
	Options models.RenderOptions `json:"options"`
}

// videoIDPattern keeps video ids safe to embed in file names.
var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var errOutsideRoot = errors.New("path escapes media root")

// confine resolves p against root and rejects anything that lands outside
// it. Relative paths are taken relative to root.
func confine(root, p string) (string, error) {
	if p == "" {
		return "", nil
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return full, nil
}

// CreateRender handles POST /v1/renders
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Scenes) == 0 {
		respondError(w, http.StatusBadRequest, "At least one scene is required")
		return
	}
	for i, s := range req.Scenes {
		if s.SceneNumber < 1 || s.ImagePath == "" {
			respondError(w, http.StatusBadRequest, "Every scene needs a positive scene_number and an image_path")
			return
		}
		image, err := confine(h.mediaRoot, s.ImagePath)
		if err != nil {
			respondError(w, http.StatusBadRequest, "image_path must be inside the upload directory")
			return
		}
		audio, err := confine(h.mediaRoot, s.AudioPath)
		if err != nil {
			respondError(w, http.StatusBadRequest, "audio_path must be inside the upload directory")
			return
		}
		req.Scenes[i].ImagePath, req.Scenes[i].AudioPath = image, audio
	}
	if _, err := render.LookupPreset(req.Options.RenderingPreset, h.defaultPreset); err != nil {
		respondError(w, http.StatusBadRequest, "Unknown rendering_preset")
		return
	}

	id := uuid.New()
	if req.VideoID == "" {
		req.VideoID = id.String()[:8]
	}
	if !videoIDPattern.MatchString(req.VideoID) {
		respondError(w, http.StatusBadRequest, "video_id may only contain letters, digits, '-' and '_'")
		return
	}

	rec := &models.Render{
		ID:       id,
		VideoID:  req.VideoID,
		Status:   models.RenderStatusPending,
		Scenes:   req.Scenes,
		Options:  req.Options,
		Metadata: models.JSONB{},
	}

	if err := h.db.CreateRender(r.Context(), rec); err != nil {
		h.logger.Error().Err(err).Msg("failed to create render")
		respondError(w, http.StatusInternalServerError, "Failed to create render")
		return
	}

	if err := h.queue.EnqueueRender(r.Context(), rec.ID); err != nil {
		h.logger.Error().Err(err).Str("render_id", rec.ID.String()).Msg("failed to enqueue render")
		_ = h.db.FailRender(r.Context(), rec.ID, "failed to enqueue render")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	respondJSON(w, http.StatusAccepted, rec)
}

// GetRender handles GET /v1/renders/{renderID}
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "renderID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render ID")
		return
	}

	rec, err := h.db.GetRender(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Render not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("render_id", id.String()).Msg("failed to get render")
		respondError(w, http.StatusInternalServerError, "Failed to get render")
		return
	}

	// Live progress can be ahead of the throttled database copy.
	if !rec.Status.Terminal() {
		if p, err := h.queue.LastProgress(r.Context(), id); err == nil && p != nil && p.Percent > rec.Progress {
			rec.Progress = p.Percent
			stage := p.Stage
			rec.Stage = &stage
		}
	}

	respondJSON(w, http.StatusOK, rec)
}

// ListRenders handles GET /v1/renders
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	renders, err := h.db.ListRenders(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list renders")
		respondError(w, http.StatusInternalServerError, "Failed to list renders")
		return
	}
	if renders == nil {
		renders = []models.Render{}
	}

	respondJSON(w, http.StatusOK, renders)
}

// Catalog handles GET /v1/catalog
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"presets":          render.Presets(),
		"transitions":      effects.Transitions,
		"animations":       effects.Animations,
		"resolution_tiers": render.ResolutionTiers,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
