package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/visionsysbackend/models"
	"github.com/camden-git/visionsysbackend/pipeline"
	"github.com/camden-git/visionsysbackend/repository"
)

// CameraHandler manages camera records and their pipeline workers.
type CameraHandler struct {
	Repo       repository.CameraRepositoryInterface
	Supervisor *pipeline.Supervisor
}

// cameraResponse is a camera record plus its live worker state.
type cameraResponse struct {
	models.Camera
	State string `json:"state"`
}

func (ch *CameraHandler) withState(camera models.Camera) cameraResponse {
	return cameraResponse{
		Camera: camera,
		State:  ch.Supervisor.WorkerState(camera.ID).String(),
	}
}

func (ch *CameraHandler) CreateCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Source) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields: id, source"})
		return
	}

	if existing, err := ch.Repo.GetByID(req.ID); err == nil && existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "A camera with this ID already exists"})
		return
	}

	camera := &models.Camera{
		ID:      strings.TrimSpace(req.ID),
		Name:    strings.TrimSpace(req.Name),
		Source:  strings.TrimSpace(req.Source),
		Enabled: true,
	}
	if err := ch.Repo.Create(camera); err != nil {
		log.Printf("Error creating camera '%s': %v", req.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to create camera"})
		return
	}

	writeJSON(w, http.StatusCreated, ch.withState(*camera))
}

func (ch *CameraHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	cameras, err := ch.Repo.ListAll()
	if err != nil {
		log.Printf("Error listing cameras: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve cameras"})
		return
	}

	responses := make([]cameraResponse, 0, len(cameras))
	for _, camera := range cameras {
		responses = append(responses, ch.withState(camera))
	}
	writeJSON(w, http.StatusOK, responses)
}

func (ch *CameraHandler) getCamera(w http.ResponseWriter, r *http.Request) *models.Camera {
	cameraID := chi.URLParam(r, "camera_id")
	camera, err := ch.Repo.GetByID(cameraID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Camera not found"})
		} else {
			log.Printf("Error getting camera %s: %v", cameraID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve camera"})
		}
		return nil
	}
	return camera
}

func (ch *CameraHandler) GetCamera(w http.ResponseWriter, r *http.Request) {
	camera := ch.getCamera(w, r)
	if camera == nil {
		return
	}
	writeJSON(w, http.StatusOK, ch.withState(*camera))
}

func (ch *CameraHandler) UpdateCamera(w http.ResponseWriter, r *http.Request) {
	camera := ch.getCamera(w, r)
	if camera == nil {
		return
	}

	var req struct {
		Name    *string `json:"name"`
		Source  *string `json:"source"`
		Enabled *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body: " + err.Error()})
		return
	}

	if req.Name != nil {
		camera.Name = strings.TrimSpace(*req.Name)
	}
	if req.Source != nil {
		if strings.TrimSpace(*req.Source) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Source cannot be empty"})
			return
		}
		camera.Source = strings.TrimSpace(*req.Source)
	}
	if req.Enabled != nil {
		camera.Enabled = *req.Enabled
	}

	if err := ch.Repo.Update(camera); err != nil {
		log.Printf("Error updating camera %s: %v", camera.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to update camera"})
		return
	}

	// a disabled camera should not keep its worker, and a source change only
	// takes effect on restart
	if req.Enabled != nil && !*req.Enabled {
		ch.Supervisor.Stop(camera.ID)
	}

	writeJSON(w, http.StatusOK, ch.withState(*camera))
}

func (ch *CameraHandler) DeleteCamera(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "camera_id")

	ch.Supervisor.Stop(cameraID)

	if err := ch.Repo.Delete(cameraID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Camera not found"})
		} else {
			log.Printf("Error deleting camera %s: %v", cameraID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete camera"})
		}
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

func (ch *CameraHandler) StartCamera(w http.ResponseWriter, r *http.Request) {
	camera := ch.getCamera(w, r)
	if camera == nil {
		return
	}
	if !camera.Enabled {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Camera is disabled"})
		return
	}

	err := ch.Supervisor.Start(r.Context(), pipeline.CameraConfig{
		ID:     camera.ID,
		Name:   camera.Name,
		Source: camera.Source,
	})
	if err != nil {
		log.Printf("Error starting camera %s: %v", camera.ID, err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ch.withState(*camera))
}

func (ch *CameraHandler) StopCamera(w http.ResponseWriter, r *http.Request) {
	camera := ch.getCamera(w, r)
	if camera == nil {
		return
	}

	ch.Supervisor.Stop(camera.ID)
	writeJSON(w, http.StatusOK, ch.withState(*camera))
}

func (ch *CameraHandler) RestartCamera(w http.ResponseWriter, r *http.Request) {
	camera := ch.getCamera(w, r)
	if camera == nil {
		return
	}

	if err := ch.Supervisor.Restart(r.Context(), camera.ID); err != nil {
		log.Printf("Error restarting camera %s: %v", camera.ID, err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ch.withState(*camera))
}
