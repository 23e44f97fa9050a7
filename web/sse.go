package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jyothri/picasa-bridge/notification"
)

// Swapped in tests.
var (
	keepAliveInterval = 4 * time.Second
	streamTimeout     = 30 * time.Minute
)

func sse(r *mux.Router) {
	sse := r.PathPrefix("/sse").Subrouter()
	sse.HandleFunc("/uploads", uploadEventsHandler)
	sse.HandleFunc("/uploads/{upload_key}", uploadEventsHandler)
}

// uploadEventsHandler streams progress of one upload, or of all uploads
// when no key is given. The stream closes when the upload ends.
func uploadEventsHandler(w http.ResponseWriter, r *http.Request) {
	uploadKey, present := mux.Vars(r)["upload_key"]
	if !present {
		uploadKey = notification.NOTIFICATION_ALL
	}

	// Subscribe before looking at the record: an upload that ends after the
	// lookup still closes the subscriber.
	events := notification.GetSubscriber(uploadKey)
	defer notification.ReleaseSubscriber(uploadKey, events)
	var finished []byte
	if uploadKey != notification.NOTIFICATION_ALL {
		upload, err := store.GetUploadByKey(uploadKey)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if upload.Status == "Completed" || upload.Status == "Failed" {
			finished, _ = json.Marshal(upload)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastEventId := r.Header.Get("Last-Event-Id")

	rc := http.NewResponseController(w)
	if finished != nil {
		writeEvent(w, rc, "close", string(finished))
		return
	}
	clientGone := r.Context().Done()
	ticker := time.NewTicker(keepAliveInterval)
	timer := time.NewTimer(streamTimeout)
	defer ticker.Stop()
	defer timer.Stop()

	slog.Info("Client connected to upload events", "upload_key", uploadKey, "last_event_id", lastEventId)
	start := time.Now()
	for {
		select {
		case <-clientGone:
			slog.Info("Client disconnected from upload events", "upload_key", uploadKey, "duration", time.Since(start))
			return
		case progress, ok := <-events:
			if !ok {
				writeEvent(w, rc, "close", "upload finished")
				return
			}
			data, err := json.Marshal(progress)
			if err != nil {
				slog.Error("Failed to marshal progress", "upload_key", uploadKey, "error", err)
				continue
			}
			if !writeEvent(w, rc, "progress", string(data)) {
				return
			}
		case <-ticker.C:
			if !writeEvent(w, rc, "timer", time.Now().Format(time.RFC850)) {
				return
			}
		case <-timer.C:
			writeEvent(w, rc, "close", "close at "+time.Now().Format(time.RFC850))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data string) bool {
	timestamp := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	if _, err := fmt.Fprintf(w, "event:%s\nretry: 10000\nid:%s\ndata:%s\n\n", event, timestamp, data); err != nil {
		slog.Warn("Unable to write event", "event", event, "error", err)
		return false
	}
	rc.SetWriteDeadline(time.Time{})
	rc.Flush()
	return true
}
