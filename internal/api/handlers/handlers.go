// Package handlers implements the HTTP handlers of the chat backend.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/microsoft/secure-azureai-agent/internal/generator"
	"github.com/microsoft/secure-azureai-agent/internal/stream"
	"github.com/microsoft/secure-azureai-agent/pkg/models"
	"github.com/rs/zerolog/log"
)

// ServiceName is reported by the backend health endpoint.
const ServiceName = "troubleshoot-backend"

// maxBodyBytes bounds the POST /chat/stream body.
const maxBodyBytes = 1 << 20

// ThreadReader looks up stored sessions.
type ThreadReader interface {
	Get(id string) (*models.Thread, bool)
}

// Handlers holds all handler dependencies.
type Handlers struct {
	Translator *stream.Translator
	Sessions   ThreadReader
	Selector   *generator.Selector

	validate *validator.Validate
}

// New creates a new Handlers instance with all dependencies.
func New(tr *stream.Translator, sessions ThreadReader, sel *generator.Selector) *Handlers {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handlers{
		Translator: tr,
		Sessions:   sessions,
		Selector:   sel,
		validate:   v,
	}
}

// Health reports whether the generator is usable.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":            "healthy",
		"service":           ServiceName,
		"agent_initialized": h.Selector.Ready(),
	}
	if err := h.Selector.InitError(); err != nil {
		resp["status"] = "degraded"
		resp["message"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ChatStream runs one generation and streams its frames as SSE.
// POST /chat/stream
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.Translator.Stream(r.Context(), req, sse); err != nil {
		log.Debug().Err(err).Str("session_id", req.SessionID).Msg("Client went away during stream")
	}
}

// GetSession returns the analysis summary of a stored thread.
// GET /sessions/{sessionID}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	th, ok := h.Sessions.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, stream.Summarize(id, th))
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fe.Field()+" must be one of: "+fe.Param())
		case "max":
			msgs = append(msgs, fe.Field()+" is too long")
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
