package handlers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/visionsysbackend/database"
	"github.com/camden-git/visionsysbackend/models"
	"github.com/camden-git/visionsysbackend/repository"
)

const maxEventPageSize = 1000

// EventHandler serves the detection event history.
type EventHandler struct {
	Repo repository.EventRepositoryInterface
}

// parseEventFilter builds an EventFilter from query parameters. Returns a
// descriptive error for any malformed value.
func parseEventFilter(r *http.Request) (database.EventFilter, error) {
	var filter database.EventFilter
	q := r.URL.Query()

	filter.CameraID = q.Get("camera_id")

	if v := q.Get("identity_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return filter, fmt.Errorf("invalid identity_id: %q", v)
		}
		identityID := uint(id)
		filter.IdentityID = &identityID
	}

	if v := q.Get("identified"); v != "" {
		identified, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid identified flag: %q", v)
		}
		filter.Identified = &identified
	}

	for name, dest := range map[string]**int64{"from": &filter.From, "to": &filter.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			// also accept RFC 3339 for humans poking the API
			parsed, timeErr := time.Parse(time.RFC3339, v)
			if timeErr != nil {
				return filter, fmt.Errorf("invalid %s timestamp: %q", name, v)
			}
			ts = parsed.Unix()
		}
		*dest = &ts
	}

	if v := q.Get("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid min_score: %q", v)
		}
		filter.MinScore = &score
	}

	if v := q.Get("sort"); v != "" {
		if !database.IsValidSortOrder(v) {
			return filter, fmt.Errorf("invalid sort order: %q", v)
		}
		filter.SortOrder = v
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 64)
		if err != nil || limit == 0 || limit > maxEventPageSize {
			return filter, fmt.Errorf("invalid limit: %q (max %d)", v, maxEventPageSize)
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid offset: %q", v)
		}
		filter.Offset = offset
	}

	return filter, nil
}

func (eh *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	events, err := eh.Repo.Search(filter)
	if err != nil {
		log.Printf("Error searching events: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve events"})
		return
	}
	if events == nil {
		events = []models.DetectionEvent{}
	}

	total, err := eh.Repo.Count(filter)
	if err != nil {
		log.Printf("Error counting events: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to count events"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
		"offset": filter.Offset,
	})
}

func (eh *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "event_id")

	event, err := eh.Repo.GetByID(eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Event not found"})
		} else {
			log.Printf("Error getting event %s: %v", eventID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve event"})
		}
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// SummarizeEvents returns per-camera totals for the filtered range.
func (eh *EventHandler) SummarizeEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	summaries, err := eh.Repo.SummarizeByCamera(filter)
	if err != nil {
		log.Printf("Error summarizing events: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to summarize events"})
		return
	}
	if summaries == nil {
		summaries = []database.EventCameraSummary{}
	}

	writeJSON(w, http.StatusOK, summaries)
}

// ExportEventsCSV streams the filtered events as a CSV download.
func (eh *EventHandler) ExportEventsCSV(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if filter.Limit == 0 {
		filter.Limit = maxEventPageSize
	}

	events, err := eh.Repo.Search(filter)
	if err != nil {
		log.Printf("Error searching events for export: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve events"})
		return
	}

	filename := fmt.Sprintf("events_%s.csv", time.Now().UTC().Format("20060102T150405"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	writer := csv.NewWriter(w)
	header := []string{"id", "camera_id", "captured_at", "identified", "identity_id", "identity_name", "score", "x1", "y1", "x2", "y2", "snapshot_path"}
	if err := writer.Write(header); err != nil {
		log.Printf("Error writing CSV header: %v", err)
		return
	}

	for _, event := range events {
		identityID := ""
		if event.IdentityID != nil {
			identityID = strconv.FormatUint(uint64(*event.IdentityID), 10)
		}
		record := []string{
			event.ID,
			event.CameraID,
			time.Unix(event.CapturedAt, 0).UTC().Format(time.RFC3339),
			strconv.FormatBool(event.Identified),
			identityID,
			event.IdentityName,
			strconv.FormatFloat(event.Score, 'f', 4, 64),
			strconv.Itoa(event.X1),
			strconv.Itoa(event.Y1),
			strconv.Itoa(event.X2),
			strconv.Itoa(event.Y2),
			event.SnapshotPath,
		}
		if err := writer.Write(record); err != nil {
			log.Printf("Error writing CSV record for event %s: %v", event.ID, err)
			return
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		log.Printf("Error flushing CSV export: %v", err)
	}
}

// PurgeEvents deletes events older than the given cutoff.
func (eh *EventHandler) PurgeEvents(w http.ResponseWriter, r *http.Request) {
	beforeStr := r.URL.Query().Get("before")
	if beforeStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required parameter: before"})
		return
	}

	cutoff, err := strconv.ParseInt(beforeStr, 10, 64)
	if err != nil {
		parsed, timeErr := time.Parse(time.RFC3339, beforeStr)
		if timeErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid before timestamp: " + beforeStr})
			return
		}
		cutoff = parsed.Unix()
	}

	deleted, err := eh.Repo.DeleteOlderThan(cutoff)
	if err != nil {
		log.Printf("Error purging events before %d: %v", cutoff, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to purge events"})
		return
	}

	log.Printf("Purged %d events captured before %d", deleted, cutoff)
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted, "before": cutoff})
}
