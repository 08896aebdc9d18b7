package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"propintel/internal/adapters/observability"
	"propintel/internal/app"
	"propintel/internal/domain"
)

type Handlers struct {
	Catalog *app.CatalogService
	Emails  *app.EmailLogService
	Contact *app.ContactService

	Client   domain.ExtractorClient
	Repo     domain.SnapshotRepository
	Cache    domain.Cache
	StoreKey string

	// AssetBase is the origin relative image_url paths resolve against.
	AssetBase string
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Post("/v1/uploads", h.upload)
	s.mux.Delete("/v1/uploads", h.removeUpload)
	s.mux.Get("/v1/properties", h.listProperties)
	s.mux.Get("/v1/properties/{id}", h.getProperty)
	s.mux.Post("/v1/properties/{id}/contact", h.contactBroker)
	s.mux.Get("/v1/emails", h.listEmails)
	s.mux.Post("/v1/emails/{id}/resend", h.resendEmail)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeWithETag(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write response body")
	}
}

// ---- uploads ----

type uploadResponse struct {
	Status string            `json:"status"`
	Data   []domain.Property `json:"data"`
	Log    []string          `json:"log"`
}

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("pdf")
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Upload", "multipart field 'pdf' is required")
		return
	}
	defer file.Close()

	ctl := app.NewUploadController(h.Client, h.Repo, h.Cache, h.StoreKey)
	if err := ctl.SelectFile(r.Context(), header.Filename, header.Header.Get("Content-Type"), header.Size, file); err != nil {
		observability.ObserveUpload("rejected")
		writeProblem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return
	}

	batch, err := ctl.Upload(r.Context())
	if err != nil {
		observability.ObserveUpload("error")
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrNoData) {
			status = http.StatusUnprocessableEntity
		}
		var be *domain.BackendError
		if errors.As(err, &be) && be.Status >= 400 && be.Status < 500 {
			status = be.Status
		}
		writeProblem(w, status, "Extraction Failed", ctl.ErrMessage())
		return
	}

	observability.ObserveUpload("success")
	writeJSON(w, http.StatusOK, uploadResponse{
		Status: "success",
		Data:   h.resolveImages(batch),
		Log:    ctl.Transcript(),
	})
}

func (h *Handlers) removeUpload(w http.ResponseWriter, r *http.Request) {
	ctl := app.NewUploadController(h.Client, h.Repo, h.Cache, h.StoreKey)
	if err := ctl.RemoveFile(r.Context()); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Remove Failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- properties ----

type listResponse struct {
	Summary    domain.Summary    `json:"summary"`
	Properties []domain.Property `json:"properties"`
}

func (h *Handlers) listProperties(w http.ResponseWriter, r *http.Request) {
	f := app.ListFilter{
		Search: r.URL.Query().Get("search"),
		Status: r.URL.Query().Get("status"),
	}
	list, summary, err := h.Catalog.Properties(r.Context(), f)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List Failed", err.Error())
		return
	}
	writeWithETag(w, r, listResponse{Summary: summary, Properties: h.resolveImages(list)})
}

type detailResponse struct {
	Property domain.Property   `json:"property"`
	Emails   []domain.EmailLog `json:"emails"`
}

func (h *Handlers) getProperty(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	prop, err := h.Catalog.PropertyByID(r.Context(), id)
	if err != nil {
		// The UI contract on a miss is "go back to the list", not an error
		// page; point the caller there.
		w.Header().Set("Link", `</v1/properties>; rel="collection"`)
		writeProblem(w, http.StatusNotFound, "Not Found", "property not found; return to the property list")
		return
	}

	// keep the backend's dealer-reply analysis warm for this property
	go func(p domain.Property) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := h.Client.SyncProperty(ctx, p.Title, p); err != nil {
			log.Debug().Err(err).Str("property", p.ID).Msg("property sync failed")
		}
	}(prop)

	resolved := h.resolveImages([]domain.Property{prop})
	writeWithETag(w, r, detailResponse{
		Property: resolved[0],
		Emails:   h.Emails.Logs(app.LogFilter{PropertyID: id}),
	})
}

// ---- broker contact ----

type contactRequest struct {
	Broker  string `json:"broker"`
	Message string `json:"message"`
}

func (h *Handlers) contactBroker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "body must be JSON with broker and message")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid Request", "message must not be empty")
		return
	}

	reply, err := h.Contact.Submit(r.Context(), id, req.Broker, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNoBrokers):
			writeProblem(w, http.StatusBadRequest, "No Brokers", err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
		default:
			var be *domain.BackendError
			if errors.As(err, &be) {
				detail := be.Detail
				if detail == "" {
					detail = "Failed to send message"
				}
				writeProblem(w, http.StatusBadGateway, "Contact Failed", "Error: "+detail)
				return
			}
			writeProblem(w, http.StatusBadGateway, "Contact Failed", "Network error, please try again later.")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": reply})
}

// ---- email logs ----

func (h *Handlers) listEmails(w http.ResponseWriter, r *http.Request) {
	// one-shot authoritative fetch; streamed replies overlay until the next one
	if err := h.Emails.Refresh(r.Context()); err != nil {
		log.Warn().Err(err).Msg("email log refresh failed, serving last known set")
	}
	logs := h.Emails.Logs(app.LogFilter{
		PropertyID: r.URL.Query().Get("propertyId"),
		Status:     r.URL.Query().Get("status"),
	})
	writeWithETag(w, r, map[string]any{"emails": logs})
}

func (h *Handlers) resendEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Emails.Resend(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "no email log with that id")
			return
		}
		writeProblem(w, http.StatusBadGateway, "Resend Failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

// resolveImages joins relative image paths against the asset origin. The
// input is never mutated.
func (h *Handlers) resolveImages(list []domain.Property) []domain.Property {
	if h.AssetBase == "" {
		return list
	}
	base := strings.TrimRight(h.AssetBase, "/")
	out := make([]domain.Property, len(list))
	copy(out, list)
	for i := range out {
		u := out[i].ImageURL
		if u != "" && strings.HasPrefix(u, "/") {
			out[i].ImageURL = base + u
		}
	}
	return out
}
