// Package api provides HTTP handlers for the depth slice server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/depthslice/server/internal/ingest"
	"github.com/depthslice/server/internal/logging"
	"github.com/depthslice/server/internal/outputs"
	"github.com/depthslice/server/internal/render"
	"github.com/depthslice/server/internal/service"
)

const defaultMaxUploadBytes = 64 << 20

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.SliceService
	Outputs     *outputs.Store
	CORSOrigins []string

	// LegacyStatusCodes answers not-found and database errors with 200.
	LegacyStatusCodes bool
	RateLimitRPS      float64
	RateLimitBurst    int
	MaxUploadBytes    int64
}

type handlers struct {
	svc            *service.SliceService
	outputs        *outputs.Store
	legacy         bool
	maxUploadBytes int64
	validate       *validator.Validate
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("tablename", func(fl validator.FieldLevel) bool {
		return tableNameRe.MatchString(fl.Field().String())
	})
	return v
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	h := &handlers{
		svc:            cfg.Service,
		outputs:        cfg.Outputs,
		legacy:         cfg.LegacyStatusCodes,
		maxUploadBytes: cfg.MaxUploadBytes,
		validate:       newValidator(),
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(requestContext)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Image-File"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/", rootHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Get("/available_images", h.availableImages)
		r.Post("/get_slice", h.getSlice)
		r.Get("/images/{name}", h.imageInfo)
		r.Post("/upload_image", h.uploadImage)
		r.Get("/cache/stats", h.cacheStats)
	})

	return r
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"Api_Name": "Get slices"})
}

func (h *handlers) availableImages(w http.ResponseWriter, r *http.Request) {
	names, err := h.svc.ListImages(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("failed to list images")
		status := http.StatusInternalServerError
		if h.legacy {
			status = http.StatusOK
		}
		writeJSON(w, status, map[string]string{"list_available_images": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"list_available_images": names})
}

type sliceRequest struct {
	ImageName string   `json:"image_name" validate:"required"`
	MinDepth  *float64 `json:"min_depth" validate:"required"`
	MaxDepth  *float64 `json:"max_depth" validate:"required"`
	Colormap  string   `json:"colormap,omitempty"`
	Normalize string   `json:"normalize,omitempty" validate:"omitempty,oneof=index minmax"`
	Scale     int      `json:"scale,omitempty" validate:"gte=0"`
}

func (h *handlers) getSlice(w http.ResponseWriter, r *http.Request) {
	var req sliceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, &service.Error{Kind: service.KindValidation, Msg: "invalid request body: " + err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, &service.Error{Kind: service.KindValidation, Msg: err.Error()})
		return
	}

	data, err := h.svc.RenderSlice(r.Context(), service.SliceRequest{
		Image:    req.ImageName,
		MinDepth: *req.MinDepth,
		MaxDepth: *req.MaxDepth,
		Options: render.Options{
			Colormap:  req.Colormap,
			Normalize: render.Normalization(req.Normalize),
			Scale:     req.Scale,
		},
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if h.outputs != nil {
		path, err := h.outputs.Save(data)
		if err != nil {
			logging.FromContext(r.Context()).Error().Err(err).Msg("failed to save generated image")
		} else {
			w.Header().Set("X-Image-File", filepath.Base(path))
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *handlers) imageInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.ImageInfo(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.CacheStats()
	if n, ok := stats["png_cache_cap"].(int); ok {
		stats["png_cache_cap_human"] = humanize.Bytes(uint64(n))
	}
	writeJSON(w, http.StatusOK, stats)
}

type uploadRequest struct {
	Name string `validate:"omitempty,max=48,tablename"`
}

func (h *handlers) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, r, &service.Error{Kind: service.KindValidation, Msg: "invalid multipart form: " + err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := uploadRequest{Name: r.FormValue("name")}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, &service.Error{Kind: service.KindValidation, Msg: err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, &service.Error{Kind: service.KindValidation, Msg: "missing file field"})
		return
	}
	defer file.Close()

	rc, err := ingest.Decompress(file, header.Filename)
	if err != nil {
		h.writeError(w, r, &service.Error{Kind: service.KindValidation, Err: err})
		return
	}
	defer rc.Close()

	res, err := h.svc.Ingest(r.Context(), rc, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": res.Message(),
		"table":   res.Table,
		"rows":    res.Rows,
		"cols":    res.Cols,
	})
}

// writeError maps a service error to its status code and payload.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		se = &service.Error{Kind: service.KindInternal, Err: err}
	}

	status := http.StatusInternalServerError
	key := "Error"
	switch se.Kind {
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindEmpty:
		status = http.StatusUnprocessableEntity
	case service.KindDatabase:
		key = "db_response"
	}

	l := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Str("kind", se.Kind.String()).Msg("request failed")
	} else {
		l.Debug().Err(err).Str("kind", se.Kind.String()).Msg("request rejected")
	}

	if h.legacy && (se.Kind == service.KindNotFound || se.Kind == service.KindDatabase) {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{key: se.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
