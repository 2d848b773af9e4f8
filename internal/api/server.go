// Package api is the operator HTTP surface over the same queue, schedule and
// processor the bot uses.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/jdholdren/deepstudy/internal/deepstudy"
	dserrs "github.com/jdholdren/deepstudy/internal/errors"
	"github.com/jdholdren/deepstudy/internal/processor"
	"github.com/jdholdren/deepstudy/internal/serverutil"
)

type (
	Queue interface {
		Enqueue(ctx context.Context, userID int64, topic string) (deepstudy.QueueItem, deepstudy.ArchiveEntry, error)
		List(ctx context.Context, userID int64) ([]deepstudy.QueueItem, error)
		History(ctx context.Context, userID int64, limit int) ([]deepstudy.ArchiveEntry, error)
	}

	Schedules interface {
		Get(ctx context.Context, userID int64) (hour, minute int, err error)
		Set(ctx context.Context, userID int64, hour, minute int) error
	}

	Processor interface {
		ProcessOneTopic(ctx context.Context, userID int64, mode processor.Mode) processor.Outcome
	}
)

type (
	Server struct {
		*http.Server

		queue     Queue
		schedules Schedules
		proc      Processor

		runs sync.WaitGroup
	}

	ServerConfig struct {
		Port       int
		CorsOrigin string
	}
)

func NewServer(config ServerConfig, q Queue, s Schedules, p Processor) *Server {
	if config.CorsOrigin == "" {
		config.CorsOrigin = "*"
	}

	r := serverutil.ErrRouter{Router: mux.NewRouter()}
	srvr := &Server{
		queue:     q,
		schedules: s,
		proc:      p,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			Handler: handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
				handlers.CORS(
					handlers.AllowedOrigins([]string{config.CorsOrigin}),
					handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
					handlers.AllowedHeaders([]string{"content-type"}),
				)(r),
			),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/healthz", srvr.getHealth).Methods(http.MethodGet)

	users := serverutil.ErrRouter{Router: r.PathPrefix("/api/users/{userID}").Subrouter()}
	users.HandleFuncE("/topics", srvr.getTopics).Methods(http.MethodGet)
	users.HandleFuncE("/topics", srvr.postTopic).Methods(http.MethodPost)
	users.HandleFuncE("/history", srvr.getHistory).Methods(http.MethodGet)
	users.HandleFuncE("/schedule", srvr.getSchedule).Methods(http.MethodGet)
	users.HandleFuncE("/schedule", srvr.putSchedule).Methods(http.MethodPut)
	users.HandleFuncE("/generate", srvr.postGenerate).Methods(http.MethodPost)

	slog.Debug("configured api server", "port", config.Port)

	return srvr
}

// Wait blocks until every generation started over the API returned or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func userID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["userID"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, dserrs.E(fmt.Sprintf("invalid user id %q", raw), dserrs.KindValidation)
	}

	return id, nil
}
