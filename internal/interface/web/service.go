// Package webservice exposes the gift-card operations over an HTTP JSON API.
package webservice

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmstore/giftd/internal/core/application"
	log "github.com/sirupsen/logrus"
)

type service struct {
	port   uint32
	server *http.Server
	appSvc application.Service
}

func NewService(port uint32, appSvc application.Service) (*service, error) {
	if port == 0 {
		return nil, fmt.Errorf("missing port")
	}
	if appSvc == nil {
		return nil, fmt.Errorf("missing application service")
	}

	svc := &service{port: port, appSvc: appSvc}
	svc.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           logRequests(svc.router()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return svc, nil
}

func (s *service) router() *http.ServeMux {
	handler := newOperationHandler(s.appSvc)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/mint", handler.mint)
	mux.HandleFunc("POST /v1/transfer", handler.transfer)
	mux.HandleFunc("POST /v1/redeem", handler.redeem)
	mux.HandleFunc("GET /v1/operations", handler.listOperations)
	mux.HandleFunc("GET /v1/operations/{id}", handler.getOperation)
	return mux
}

func (s *service) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server exited: %s", err)
		}
	}()
	log.Infof("started listening at :%d", s.port)
	return nil
}

func (s *service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// nolint
	s.server.Shutdown(ctx)
	s.appSvc.Stop()
	log.Info("shutdown service")
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("elapsed", time.Since(start).String()).
			Debug("handled request")
	})
}
