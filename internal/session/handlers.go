package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zombor/pantry-tracker/internal/inventory"
	"github.com/zombor/pantry-tracker/internal/reconcile"
)

// maxPhotoSize bounds multipart uploads; phone photos can be large
const maxPhotoSize = int64(50 << 20)

const dateLayout = "2006-01-02"

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("error encoding response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	setCORSHeaders(w)
	s.writeJSON(w, code, map[string]string{"error": message})
}

// respond writes the session state after a command
func (s *Server) respond(w http.ResponseWriter, code int, err error) {
	if errors.Is(err, ErrClosed) {
		s.writeError(w, http.StatusServiceUnavailable, "Session is closed")
		return
	}
	s.writeJSON(w, code, s.session.Snapshot())
}

// command adapts a no-argument session command to a handler
func (s *Server) command(fn func(*Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, http.StatusOK, fn(s.session))
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func decodeArea(r *http.Request) (Area, error) {
	var area Area
	if err := json.NewDecoder(r.Body).Decode(&area); err != nil {
		return Area{}, errors.New("Invalid request body")
	}
	area.Label = strings.TrimSpace(area.Label)
	area.ID = strings.TrimSpace(area.ID)
	if area.Label == "" {
		return Area{}, errors.New("Area label is required")
	}
	if area.ID == "" {
		area.ID = inventory.NormalizeName(area.Label)
	}
	return area, nil
}

func (s *Server) handleSelectArea(w http.ResponseWriter, r *http.Request) {
	area, err := decodeArea(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusOK, s.session.SelectArea(area))
}

func (s *Server) handleNextArea(w http.ResponseWriter, r *http.Request) {
	area, err := decodeArea(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusOK, s.session.NextArea(area))
}

// detectContentType falls back to the file extension when the part has no type
func detectContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleCapture accepts a photo upload and starts a scan
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		s.logger.Warn("error parsing multipart form", zap.Error(err))
		message := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		s.writeError(w, http.StatusBadRequest, message)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "No file was selected. Please choose a photo to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.logger.Error("error reading file data", zap.String("filename", header.Filename), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "The uploaded file is empty.")
		return
	}

	if s.storage != nil {
		name := fmt.Sprintf("%d_%s", s.now().UnixNano(), header.Filename)
		saved, err := s.storage.Save(name, data)
		if err != nil {
			s.logger.Warn("failed to archive photo", zap.String("filename", header.Filename), zap.Error(err))
		} else {
			w.Header().Set("X-Photo-Name", saved)
		}
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)
	s.respond(w, http.StatusAccepted, s.session.Capture(data, contentType))
}

func itemRef(r *http.Request, id string) (reconcile.ItemRef, error) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return reconcile.ItemRef{}, fmt.Errorf("invalid item index %q", r.PathValue("index"))
	}
	return reconcile.ItemRef{Index: index, ID: id}, nil
}

type editItemRequest struct {
	ID       string  `json:"id"`
	Name     *string `json:"name"`
	Quantity *string `json:"quantity"`
	Unit     *string `json:"unit"`
	Category *string `json:"category"`
	// Expiry is YYYY-MM-DD; an empty string clears it
	Expiry *string `json:"expiry"`
}

func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	var req editItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ref, err := itemRef(r, req.ID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var expiry *time.Time
	if req.Expiry != nil && *req.Expiry != "" {
		t, err := time.Parse(dateLayout, *req.Expiry)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Expiry must be a YYYY-MM-DD date")
			return
		}
		expiry = &t
	}

	var edits []func() error
	if req.Name != nil {
		edits = append(edits, func() error { return s.session.EditName(ref, *req.Name) })
	}
	if req.Quantity != nil {
		edits = append(edits, func() error { return s.session.EditQuantity(ref, *req.Quantity) })
	}
	if req.Unit != nil {
		edits = append(edits, func() error { return s.session.EditUnit(ref, *req.Unit) })
	}
	if req.Category != nil {
		edits = append(edits, func() error { return s.session.EditCategory(ref, *req.Category) })
	}
	if req.Expiry != nil {
		edits = append(edits, func() error { return s.session.EditExpiry(ref, expiry) })
	}
	for _, edit := range edits {
		if err := edit(); err != nil {
			s.respond(w, http.StatusOK, err)
			return
		}
	}
	s.respond(w, http.StatusOK, nil)
}

func (s *Server) handleChangeMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string `json:"id"`
		MatchType string `json:"match_type"`
		RecordID  *int64 `json:"record_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ref, err := itemRef(r, req.ID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mt, err := reconcile.ParseMatchType(req.MatchType)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusOK, s.session.ChangeMatch(ref, mt, req.RecordID))
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	ref, err := itemRef(r, r.URL.Query().Get("id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusOK, s.session.RemoveItem(ref))
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Quantity string `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "Item name is required")
		return
	}
	s.respond(w, http.StatusOK, s.session.AddItem(req.Name, req.Quantity))
}

func (s *Server) handleTourSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.session.Summary()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "Session is closed")
		return
	}
	if summary.PerArea == nil {
		summary.PerArea = []reconcile.AreaResult{}
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// handleQuickAdd adds stock by name outside of a scan
func (s *Server) handleQuickAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string  `json:"name"`
		Quantity float64 `json:"quantity"`
		Unit     string  `json:"unit"`
		Category string  `json:"category"`
		Note     string  `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "Item name is required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}

	id, created, err := s.ledger.AddByName(inventory.StockEntry{
		Name:     req.Name,
		Quantity: req.Quantity,
		Unit:     req.Unit,
		Category: req.Category,
	}, &inventory.Purchase{Quantity: req.Quantity, Date: s.now(), Note: req.Note})
	if err != nil {
		s.logger.Error("error adding item", zap.String("name", req.Name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	s.writeJSON(w, code, map[string]any{"id": id, "created": created})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.Store().ListRecords()
	if err != nil {
		s.logger.Error("error listing items", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid item ID")
		return
	}

	record, err := s.ledger.Store().GetByID(id)
	if errors.Is(err, inventory.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		s.logger.Error("error getting item", zap.Int64("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	purchases, err := s.ledger.Store().ListPurchases(id)
	if err != nil {
		s.logger.Error("error listing purchases", zap.Int64("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"record":    record,
		"purchases": purchases,
	})
}

func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusNotFound, "Photo not found")
		return
	}
	name := r.PathValue("name")
	data, err := s.storage.Get(name)
	if err != nil {
		s.logger.Debug("photo lookup failed", zap.String("name", name), zap.Error(err))
		s.writeError(w, http.StatusNotFound, "Photo not found")
		return
	}
	w.Header().Set("Content-Type", detectContentType("", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("error writing photo", zap.String("name", name), zap.Error(err))
	}
}

func (s *Server) handleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusNotFound, "Photo not found")
		return
	}
	name := r.PathValue("name")
	if err := s.storage.Delete(name); err != nil {
		s.logger.Warn("error deleting photo", zap.String("name", name), zap.Error(err))
		s.writeError(w, http.StatusNotFound, "Photo not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listHandlers serves one of the live name lists used to canonicalize
// categories and units
func (s *Server) listHandlers(kind string, list func() ([]string, error), save func(string) error) (http.HandlerFunc, http.HandlerFunc) {
	get := func(w http.ResponseWriter, r *http.Request) {
		names, err := list()
		if err != nil {
			s.logger.Error("error listing names", zap.String("list", kind), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if names == nil {
			names = []string{}
		}
		s.writeJSON(w, http.StatusOK, names)
	}
	post := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			s.writeError(w, http.StatusBadRequest, "Name is required")
			return
		}
		if err := save(name); err != nil {
			s.logger.Error("error saving name", zap.String("list", kind), zap.String("name", name), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		get(w, r)
	}
	return get, post
}
