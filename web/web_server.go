package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jyothri/picasa-bridge/constants"
	"github.com/jyothri/picasa-bridge/picasa"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

var photoClient *picasa.Client

func newRouter() *mux.Router {
	r := mux.NewRouter()
	api(r)
	oauth(r)
	sse(r)
	return r
}

func Server() error {
	slog.Info("Starting web server.", "addr", constants.ListenAddr)
	photoClient = picasa.NewClient(
		picasa.WithRateLimit(rate.Limit(constants.ApiRateLimit), constants.ApiRateBurst),
		picasa.WithLogger(slog.Default().With("component", "picasa")),
	)
	cors := cors.New(cors.Options{
		AllowedOrigins:   []string{constants.FrontendUrl},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	})
	handler := cors.Handler(newRouter())
	srv := &http.Server{
		Handler:     handler,
		Addr:        constants.ListenAddr,
		ReadTimeout: 5 * time.Minute,
		// Streams and photo uploads outlive the usual short deadline; the
		// SSE handler clears its own write deadline per event.
		WriteTimeout: 5 * time.Minute,
	}
	return srv.ListenAndServe()
}
