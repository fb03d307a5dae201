package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/relabs-tech/ahrs_computer/internal/config"
	"github.com/relabs-tech/ahrs_computer/internal/fusion"
	"github.com/relabs-tech/ahrs_computer/internal/sink"
)

// latestEstimate keeps the most recent estimate seen on MQTT.
type latestEstimate struct {
	mu   sync.RWMutex
	est  fusion.Estimate
	have bool
}

func (l *latestEstimate) set(e fusion.Estimate) {
	l.mu.Lock()
	l.est = e
	l.have = true
	l.mu.Unlock()
}

func (l *latestEstimate) get() (fusion.Estimate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.est, l.have
}

func newWebHandler(latest *latestEstimate, hub *sink.Hub, staticDir string) http.Handler {
	mux := http.NewServeMux()

	// JSON API endpoint: latest estimate
	mux.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		e, ok := latest.get()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(e); err != nil {
			log.Printf("json encode error: %v", err)
		}
	})

	// Live stream of every estimate
	mux.Handle("/ws", hub)

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	return mux
}

// RunWeb serves the latest estimate over HTTP and streams estimates to
// websocket clients until ctx is cancelled.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()

	latest := &latestEstimate{}
	hub := sink.NewHub()
	defer hub.Close()

	client, err := subscribeEstimates(cfg, cfg.MQTTClientIDWeb, func(e fusion.Estimate) {
		latest.set(e)
		hub.Publish(e)
	})
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler: newWebHandler(latest, hub, "web"),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("web server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
