package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rulepost/rulepost/pkg/dispatcher"
	"github.com/rulepost/rulepost/pkg/store"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080
)

// Server exposes the management API: rule CRUD, stored emails with
// their processing outcomes, and rule dry-run endpoints.
type Server struct {
	logger *zap.Logger
	store  *store.Store
	disp   *dispatcher.Dispatcher
	httpd  *http.Server
}

func New(lc fx.Lifecycle, l *zap.Logger, s *store.Store, d *dispatcher.Dispatcher) *Server {

	viper.SetDefault("api.host", DefaultHost)
	viper.SetDefault("api.port", DefaultPort)

	server := &Server{
		logger: l.Named("API"),
		store:  s,
		disp:   d,
	}

	addr := fmt.Sprintf("%s:%d",
		viper.GetString("api.host"),
		viper.GetInt("api.port"),
	)

	server.httpd = &http.Server{
		Addr:         addr,
		Handler:      server.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {

			server.logger.Info("Starting management API",
				zap.String("addr", addr),
			)

			go func() {
				err := server.httpd.ListenAndServe()
				if err != nil && err != http.ErrServerClosed {
					server.logger.Error("Management API stopped",
						zap.Error(err),
					)
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.logger.Info("Stopping management API")
			return server.httpd.Shutdown(ctx)
		},
	})

	return server
}

func (s *Server) routes() *mux.Router {

	r := mux.NewRouter()
	r.Use(s.requireAPIKey)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	r.HandleFunc("/rules", s.handleListRules).Methods("GET")
	r.HandleFunc("/rules", s.handleCreateRule).Methods("POST")
	r.HandleFunc("/rules/test", s.handleTestConditionGroup).Methods("POST")
	r.HandleFunc("/rules/test/verbose", s.handleTestConditionGroupVerbose).Methods("POST")
	r.HandleFunc("/rules/{id}", s.handleGetRule).Methods("GET")
	r.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods("PUT")
	r.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods("DELETE")

	r.HandleFunc("/emails", s.handleListEmails).Methods("GET")
	r.HandleFunc("/emails/{id}", s.handleGetEmail).Methods("GET")
	r.HandleFunc("/emails/{id}/outcomes", s.handleListOutcomes).Methods("GET")

	return r
}

// requireAPIKey checks the X-API-Key header when api.key is configured.
// Without a configured key the API is open.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		key := viper.GetString("api.key")
		if len(key) > 0 && r.Header.Get("X-API-Key") != key {
			s.writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			zap.Error(err),
		)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
