package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/visionsysbackend/media"
	"github.com/camden-git/visionsysbackend/models"
	"github.com/camden-git/visionsysbackend/repository"
	"github.com/camden-git/visionsysbackend/services"
	"github.com/camden-git/visionsysbackend/workers"
)

const maxEnrollmentUploadBytes = 20 << 20 // 20 MiB

// IdentityHandler manages the enrolled identity registry and enrollment
// uploads.
type IdentityHandler struct {
	Repo       repository.IdentityRepositoryInterface
	Enrollment *workers.EnrollmentProcessor
	Checker    *services.DuplicateChecker
	Notifier   workers.RegistryChangeNotifier
}

func parseIdentityID(r *http.Request) (uint, error) {
	idStr := chi.URLParam(r, "identity_id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// registryChanged re-indexes the duplicate checker and pokes the pipeline
// after a mutation that affects which embeddings are live.
func (ih *IdentityHandler) registryChanged() {
	if ih.Checker != nil {
		if err := ih.Checker.Rebuild(); err != nil {
			log.Printf("Error rebuilding duplicate index after registry change: %v", err)
		}
	}
	if ih.Notifier != nil {
		ih.Notifier.OnIdentityChanged()
	}
}

func (ih *IdentityHandler) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required field: name"})
		return
	}

	if existing, err := ih.Repo.GetByName(req.Name); err == nil && existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "An identity with this name already exists"})
		return
	}

	identity := &models.Identity{Name: strings.TrimSpace(req.Name), Active: true}
	if err := ih.Repo.Create(identity); err != nil {
		log.Printf("Error creating identity '%s': %v", req.Name, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create identity"})
		return
	}

	writeJSON(w, http.StatusCreated, identity)
}

func (ih *IdentityHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := ih.Repo.ListAll()
	if err != nil {
		log.Printf("Error listing identities: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve identities"})
		return
	}
	if identities == nil {
		identities = []models.Identity{}
	}
	writeJSON(w, http.StatusOK, identities)
}

func (ih *IdentityHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, err := parseIdentityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid identity ID format"})
		return
	}

	identity, err := ih.Repo.GetByID(identityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Identity not found"})
		} else {
			log.Printf("Error getting identity %d: %v", identityID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve identity"})
		}
		return
	}

	writeJSON(w, http.StatusOK, identity)
}

func (ih *IdentityHandler) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, err := parseIdentityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid identity ID format"})
		return
	}

	var req struct {
		Name   *string `json:"name"`
		Active *bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}

	identity, err := ih.Repo.GetByID(identityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Identity not found"})
		} else {
			log.Printf("Error getting identity %d: %v", identityID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve identity"})
		}
		return
	}

	activeChanged := false
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Name cannot be empty"})
			return
		}
		identity.Name = strings.TrimSpace(*req.Name)
	}
	if req.Active != nil && *req.Active != identity.Active {
		identity.Active = *req.Active
		activeChanged = true
	}

	if err := ih.Repo.Update(identity); err != nil {
		log.Printf("Error updating identity %d: %v", identityID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update identity"})
		return
	}

	// toggling active changes which embeddings the matcher sees
	if activeChanged {
		ih.registryChanged()
	}

	writeJSON(w, http.StatusOK, identity)
}

func (ih *IdentityHandler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, err := parseIdentityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid identity ID format"})
		return
	}

	if err := ih.Repo.Delete(identityID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Identity not found"})
		} else {
			log.Printf("Error deleting identity %d: %v", identityID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete identity"})
		}
		return
	}

	ih.registryChanged()
	writeJSON(w, http.StatusNoContent, nil)
}

// EnrollPhoto accepts a multipart reference photo and queues it for the
// enrollment workers. Responds 202 since detection and quality checks run
// asynchronously.
func (ih *IdentityHandler) EnrollPhoto(w http.ResponseWriter, r *http.Request) {
	identityID, err := parseIdentityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid identity ID format"})
		return
	}

	if _, err := ih.Repo.GetByID(identityID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Identity not found"})
		} else {
			log.Printf("Error checking identity %d before enrollment: %v", identityID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to verify identity"})
		}
		return
	}

	if err := r.ParseMultipartForm(maxEnrollmentUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid multipart form: " + err.Error()})
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required file field: photo"})
		return
	}
	defer file.Close()

	if !media.IsRasterImage(header.Filename) {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Unsupported image type: " + header.Filename})
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxEnrollmentUploadBytes+1))
	if err != nil {
		log.Printf("Error reading enrollment upload for identity %d: %v", identityID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read upload"})
		return
	}
	if len(data) > maxEnrollmentUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Upload exceeds size limit"})
		return
	}

	queued := ih.Enrollment.QueueJob(workers.EnrollmentJob{
		IdentityID: identityID,
		Filename:   header.Filename,
		ImageData:  data,
		EnqueuedAt: time.Now(),
	})
	if !queued {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Enrollment queue is full or upload already pending"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":     "Enrollment queued",
		"identity_id": identityID,
		"filename":    header.Filename,
	})
}

func (ih *IdentityHandler) ListEmbeddings(w http.ResponseWriter, r *http.Request) {
	identityID, err := parseIdentityID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid identity ID format"})
		return
	}

	embeddings, err := ih.Repo.ListEmbeddingsByIdentityID(identityID)
	if err != nil {
		log.Printf("Error listing embeddings for identity %d: %v", identityID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve embeddings"})
		return
	}
	if embeddings == nil {
		embeddings = []models.IdentityEmbedding{}
	}
	writeJSON(w, http.StatusOK, embeddings)
}

func (ih *IdentityHandler) DeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	embeddingIDStr := chi.URLParam(r, "embedding_id")
	embeddingID, err := strconv.ParseUint(embeddingIDStr, 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid embedding ID format"})
		return
	}

	if err := ih.Repo.DeleteEmbedding(uint(embeddingID)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Embedding not found"})
		} else {
			log.Printf("Error deleting embedding %d: %v", embeddingID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete embedding"})
		}
		return
	}

	ih.registryChanged()
	writeJSON(w, http.StatusNoContent, nil)
}
