package handlers

import (
	"net/http"
	"time"

	"github.com/facette/natsort"

	"github.com/camden-git/visionsysbackend/pipeline"
)

// StatusHandler exposes the pipeline's operational surface: per-camera worker
// state and the health of the identity registry cache.
type StatusHandler struct {
	Supervisor *pipeline.Supervisor
	Cache      *pipeline.RegistryCache
	StartedAt  time.Time
}

type registryStatus struct {
	Identities      int    `json:"identities"`
	Version         uint64 `json:"version"`
	Stale           bool   `json:"stale"`
	Degraded        bool   `json:"degraded"`
	RefreshFailures uint64 `json:"refresh_failures"`
}

type statusResponse struct {
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Cameras       []pipeline.CameraStatus `json:"cameras"`
	Registry      registryStatus          `json:"registry"`
}

func (sh *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	cameras := sh.Supervisor.Status()

	// natural order so cam_2 sorts before cam_10
	ids := make([]string, 0, len(cameras))
	byID := make(map[string]pipeline.CameraStatus, len(cameras))
	for _, cam := range cameras {
		ids = append(ids, cam.CameraID)
		byID[cam.CameraID] = cam
	}
	natsort.Sort(ids)
	sorted := make([]pipeline.CameraStatus, 0, len(cameras))
	for _, id := range ids {
		sorted = append(sorted, byID[id])
	}

	snap := sh.Cache.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		UptimeSeconds: int64(time.Since(sh.StartedAt).Seconds()),
		Cameras:       sorted,
		Registry: registryStatus{
			Identities:      len(snap.Entries),
			Version:         snap.Version,
			Stale:           sh.Cache.Stale(),
			Degraded:        sh.Cache.Degraded(),
			RefreshFailures: sh.Cache.RefreshFailures(),
		},
	})
}
