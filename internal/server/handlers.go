package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/costwise/pricematch/internal/job"
	"github.com/costwise/pricematch/internal/models"
	"github.com/costwise/pricematch/internal/parse"
)

// maxUploadBytes bounds multipart BoQ uploads.
const maxUploadBytes = 32 << 20

type submitJobRequest struct {
	FileName string               `json:"file_name"`
	Model    models.Model         `json:"model"`
	Items    []models.InquiryItem `json:"items"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var in job.SubmitInput

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()
		items, err := parseUpload(file, header.Filename)
		if err != nil {
			s.respondError(w, statusFor(err), err.Error())
			return
		}
		in = job.SubmitInput{
			FileName: header.Filename,
			Model:    models.Model(r.FormValue("model")),
			Items:    items,
		}
	} else {
		var req submitJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		in = job.SubmitInput{FileName: req.FileName, Model: req.Model, Items: req.Items}
	}

	id, err := s.processor.Submit(r.Context(), in)
	if err != nil {
		s.logger.Warn("submit failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "pending"})
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.respondError(w, http.StatusBadRequest, "files field is required")
		return
	}

	in := job.BatchInput{
		ClientName:  r.FormValue("client_name"),
		ProjectName: r.FormValue("project_name"),
		Model:       models.Model(r.FormValue("model")),
	}
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "cannot read "+header.Filename)
			return
		}
		items, err := parseUpload(file, header.Filename)
		file.Close()
		if err != nil {
			s.respondError(w, statusFor(err), header.Filename+": "+err.Error())
			return
		}
		in.Files = append(in.Files, job.BatchFile{FileName: header.Filename, Items: items})
	}

	batchID, jobIDs, err := s.processor.SubmitBatch(r.Context(), in)
	if err != nil {
		s.logger.Warn("batch submit failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      batchID,
		"job_ids": jobIDs,
		"status":  "pending",
	})
}

func parseUpload(file multipart.File, name string) ([]models.InquiryItem, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx":
		return parse.BoQXLSX(file)
	case ".csv":
		return parse.BoQCSV(file)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %s", models.ErrValidation, filepath.Ext(name))
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": s.processor.List()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.processor.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, j)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.processor.Cancel(id); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelled"})
}

func (s *Server) handleExportJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}

	data, name, err := s.processor.ExportResults(id, format)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-origin or called by trusted tools; no origin check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStreamJob pushes progress events over a websocket until the job
// reaches a terminal state. A client that disconnects mid-run cancels the
// job.
func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, unsubscribe, err := s.processor.Subscribe(id)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Read pump: detect client disconnect. The client sends no data, so
	// any read return means the connection is gone.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-disconnected:
			s.logger.Info("stream client disconnected, cancelling job", zap.String("job_id", id))
			if err := s.processor.Cancel(id); err != nil {
				s.logger.Debug("cancel after disconnect failed", zap.Error(err))
			}
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, jobs, err := s.processor.GetBatch(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"batch": batch,
		"jobs":  jobs,
	})
}

type replacePriceListRequest struct {
	Entries []models.PriceListEntry `json:"entries"`
}

func (s *Server) handleReplacePriceList(w http.ResponseWriter, r *http.Request) {
	var req replacePriceListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Entries) == 0 {
		s.respondError(w, http.StatusBadRequest, "entries is required")
		return
	}
	for i, e := range req.Entries {
		if strings.TrimSpace(e.Description) == "" {
			s.respondError(w, http.StatusBadRequest, "empty description at entry "+strconv.Itoa(i+1))
			return
		}
	}

	if err := s.storage.ReplacePriceList(r.Context(), req.Entries); err != nil {
		s.logger.Error("replace price list failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to save price list")
		return
	}
	if s.catalog != nil {
		entries, err := s.storage.LoadPriceList(r.Context())
		if err == nil {
			if err := s.catalog.Rebuild(r.Context(), entries); err != nil {
				s.logger.Warn("catalog rebuild failed", zap.Error(err))
			}
		}
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"count":  len(req.Entries),
		"status": "replaced",
	})
}

func (s *Server) handleSearchPriceList(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.respondError(w, http.StatusNotImplemented, "catalog search not enabled")
		return
	}
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	fuzzy := r.URL.Query().Get("fuzzy") == "true"

	results, err := s.catalog.Search(r.Context(), query, limit, fuzzy)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.storage.CountPriceListEntries(r.Context())
	if err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"price_list_entries": count,
	})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrJobNotReady):
		return http.StatusConflict
	case errors.Is(err, models.ErrNoReferenceData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
