package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbrumagin/soundclone-sub000/core/pipeline"
	"github.com/mcbrumagin/soundclone-sub000/event"
	"github.com/mcbrumagin/soundclone-sub000/model"
	"github.com/mcbrumagin/soundclone-sub000/repository"
)

func testRouter(t *testing.T) (*mux.Router, *repository.MemoryTrackStore, event.Bus) {
	t.Helper()
	bus := event.NewMemoryBus(16)
	t.Cleanup(func() { bus.Close() })

	store := repository.NewMemoryTrackStore(nil)
	root := t.TempDir()
	paths := pipeline.Paths{
		RawDir:        filepath.Join(root, "audio", "raw"),
		OptimizedDir:  filepath.Join(root, "audio", "optimized"),
		WaveformDir:   filepath.Join(root, "waveforms"),
		RawBase:       "/static/audio/raw/",
		OptimizedBase: "/static/audio/optimized/",
		WaveformBase:  "/static/waveforms/",
	}
	handler := NewAPIHandler(store, pipeline.NewIngestor(store, bus, paths), bus, paths)

	router := mux.NewRouter()
	router.HandleFunc("/api/upload", handler.UploadTrackHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks", handler.GetTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{track_id}", handler.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{track_id}", handler.DeleteTrackHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/tracks/{track_id}/status", handler.TrackStatusHandler).Methods(http.MethodGet)
	return router, store, bus
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, fileBody []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("trackFile", fileName)
		require.NoError(t, err)
		_, err = part.Write(fileBody)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadAccepted(t *testing.T) {
	router, store, _ := testRouter(t)

	req := multipartUpload(t, map[string]string{
		"title": "First Light",
		"tags":  "ambient, demo ,",
	}, "first-light.mp3", []byte("mp3-bytes"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	var track model.Track
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&track))
	assert.NotEmpty(t, track.ID)
	assert.Equal(t, model.StatusPending, track.ProcessingStatus)
	assert.Equal(t, []string{"ambient", "demo"}, track.Tags)

	stored, err := store.Get(context.Background(), track.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestUploadMissingTitle(t *testing.T) {
	router, _, _ := testRouter(t)

	req := multipartUpload(t, nil, "first-light.mp3", []byte("mp3-bytes"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUploadMissingFile(t *testing.T) {
	router, _, _ := testRouter(t)

	req := multipartUpload(t, map[string]string{"title": "No File"}, "", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "Missing audio file")
}

func TestGetTrackNotFound(t *testing.T) {
	router, _, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tracks/nope", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestTrackStatusReportsReadiness(t *testing.T) {
	router, store, _ := testRouter(t)

	require.NoError(t, store.Set(context.Background(), &model.Track{
		ID:                "t1",
		Title:             "Done",
		OptimizedAudioURL: "/static/audio/optimized/t1.webm",
		WaveformURL:       "/static/waveforms/t1.png",
		ProcessingStatus:  model.StatusCompleted,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tracks/t1/status", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var status struct {
		ID     string `json:"id"`
		Ready  bool   `json:"ready"`
		Status string `json:"processingStatus"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "t1", status.ID)
	assert.True(t, status.Ready)
	assert.Equal(t, "completed", status.Status)
}

func TestDeleteTrackRemovesRecordAndAnnounces(t *testing.T) {
	router, store, bus := testRouter(t)

	fileDeleted := bus.Subscribe(event.TopicFileDeleted)
	defer fileDeleted.Close()

	require.NoError(t, store.Set(context.Background(), &model.Track{
		ID:                "t1",
		Title:             "Doomed",
		RawAudioURL:       "/static/audio/raw/t1.mp3",
		OptimizedAudioURL: "/static/audio/optimized/t1.webm",
		ProcessingStatus:  model.StatusCompleted,
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/tracks/t1", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	stored, err := store.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// One file-deleted per artifact URL on the record.
	for i := 0; i < 2; i++ {
		select {
		case env := <-fileDeleted.Events():
			var evt event.FileEvent
			require.NoError(t, env.Decode(&evt))
			assert.NotEmpty(t, evt.FilePath)
		case <-time.After(time.Second):
			t.Fatalf("missing file-deleted event %d", i)
		}
	}
}

func TestListTracks(t *testing.T) {
	router, store, _ := testRouter(t)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, store.Set(context.Background(), &model.Track{ID: id, Title: id}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tracks", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var tracks []*model.Track
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tracks))
	assert.Len(t, tracks, 2)
}
