package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mcbrumagin/soundclone-sub000/core/pipeline"
	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/logger"
	"github.com/mcbrumagin/soundclone-sub000/repository"
)

const maxUploadSize = 200 << 20 // 200MB

// APIHandler serves the thin track surface around the pipeline: upload
// ingestion plus list/get/status/delete over the metadata store.
type APIHandler struct {
	store    repository.TrackStore
	ingestor *pipeline.Ingestor
	bus      event.Bus
	paths    pipeline.Paths
}

func NewAPIHandler(store repository.TrackStore, ingestor *pipeline.Ingestor, bus event.Bus, paths pipeline.Paths) *APIHandler {
	return &APIHandler{store: store, ingestor: ingestor, bus: bus, paths: paths}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}

// UploadTrackHandler admits a multipart upload into the pipeline and responds
// without waiting for any processing.
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > maxUploadSize {
		http.Error(w, fmt.Sprintf("Request too large. Maximum size is %d MB", maxUploadSize>>20), http.StatusRequestEntityTooLarge)
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		logger.Error("failed to parse upload form", logger.ErrorField(err))
		http.Error(w, "Failed to parse upload form.", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("trackFile")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			http.Error(w, "Missing audio file. Please select a file to upload.", http.StatusBadRequest)
		} else {
			http.Error(w, "Failed to process uploaded file.", http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	var tags []string
	if raw := r.FormValue("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	track, err := h.ingestor.Ingest(r.Context(), pipeline.IngestRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Tags:        tags,
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Error("upload ingestion failed", logger.ErrorField(err))
		http.Error(w, "Failed to ingest upload.", http.StatusInternalServerError)
		return
	}

	// Processing continues in the background; the client polls status.
	writeJSON(w, http.StatusAccepted, track)
}

// GetTracksHandler lists every track record.
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.store.List(r.Context())
	if err != nil {
		logger.Error("failed to list tracks", logger.ErrorField(err))
		http.Error(w, "Failed to list tracks.", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// GetTrackHandler returns one track record.
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["track_id"]
	track, err := h.store.Get(r.Context(), trackID)
	if err != nil {
		logger.Error("failed to get track",
			logger.String("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Failed to get track.", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found.", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// TrackStatusHandler is the endpoint the completion poller hits: just the
// fields needed to decide readiness.
func (h *APIHandler) TrackStatusHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["track_id"]
	track, err := h.store.Get(r.Context(), trackID)
	if err != nil {
		http.Error(w, "Failed to get track.", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found.", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                track.ID,
		"processingStatus":  track.ProcessingStatus,
		"processingErrors":  track.ProcessingErrors,
		"optimizedAudioUrl": track.OptimizedAudioURL,
		"waveformUrl":       track.WaveformURL,
		"ready":             track.Ready(),
	})
}

// DeleteTrackHandler removes the record, its backing local files, and
// announces both so the mirror drops the remote copies.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	trackID := mux.Vars(r)["track_id"]
	track, err := h.store.Get(r.Context(), trackID)
	if err != nil {
		http.Error(w, "Failed to get track.", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found.", http.StatusNotFound)
		return
	}

	for _, urlPath := range []string{track.RawAudioURL, track.OptimizedAudioURL, track.WaveformURL} {
		if urlPath == "" {
			continue
		}
		h.removeArtifact(r.Context(), urlPath)
	}

	if err := h.store.Delete(r.Context(), trackID); err != nil {
		logger.Error("failed to delete track record",
			logger.String("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Failed to delete track.", http.StatusInternalServerError)
		return
	}

	logger.Info("track deleted", logger.String("trackId", trackID))
	writeJSON(w, http.StatusOK, map[string]string{"deleted": trackID})
}

func (h *APIHandler) removeArtifact(ctx context.Context, urlPath string) {
	localPath, err := h.paths.LocalFromURL(urlPath)
	if err != nil {
		logger.Warn("cannot map artifact for deletion",
			logger.String("urlPath", urlPath), logger.ErrorField(err))
		return
	}
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove artifact file",
			logger.String("filePath", localPath), logger.ErrorField(err))
	}
	evt := event.FileEvent{FilePath: localPath, URLPath: urlPath, Timestamp: time.Now().UTC()}
	if err := h.bus.Publish(ctx, event.TopicFileDeleted, evt); err != nil {
		logger.Warn("failed to publish file-deleted",
			logger.String("filePath", localPath), logger.ErrorField(err))
	}
}
