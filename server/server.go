package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/railalert/server/classify"
	"github.com/cyclopcam/railalert/server/config"
	"github.com/cyclopcam/railalert/server/publish"
	"github.com/cyclopcam/railalert/server/recorddb"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// Server owns the classifier and everything that consumes its records.
// The same Server runs batches and serves the HTTP API.
type Server struct {
	Log        logs.Log
	Config     *config.Config
	Classifier *classify.Classifier
	Records    *recorddb.RecordDB // May be nil
	Publisher  publish.Publisher
	RunID      string

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	closers    []func()
}

// NewServer builds the classifier and its consumers from the configuration
func NewServer(log logs.Log, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	parts, err := buildParts(log, cfg, runID)
	if err != nil {
		parts.close()
		return nil, err
	}
	s := NewServerWith(log, cfg, parts.classifier, parts.records, parts.publisher)
	s.RunID = runID
	s.closers = parts.closers
	return s, nil
}

// NewServerWith creates a server from parts that are already built.
// records and publisher may be nil.
func NewServerWith(log logs.Log, cfg *config.Config, classifier *classify.Classifier, records *recorddb.RecordDB, publisher publish.Publisher) *Server {
	if publisher == nil {
		publisher = publish.Discard{}
	}
	s := &Server{
		Log:        log,
		Config:     cfg,
		Classifier: classifier,
		Records:    records,
		Publisher:  publisher,
		RunID:      uuid.NewString(),
	}
	s.setupHttpRoutes()
	return s
}

// Store a record, and hand it to the publisher. Failures are logged, because the
// record itself is still good, and will be in the results table.
func (s *Server) consume(rec classify.Record) {
	if s.Records != nil {
		if err := s.Records.Save(rec); err != nil {
			s.Log.Errorf("Failed to save record of %v: %v", rec.Image, err)
		}
	}
	s.publish(rec)
}

func (s *Server) publish(rec classify.Record) {
	if err := s.Publisher.Publish(rec); err != nil {
		s.Log.Warnf("Failed to publish record of %v: %v", rec.Image, err)
	}
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops the HTTP server (if it is running), and closes everything we opened
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP shutdown: %v", err)
		}
	}
	s.Close()
}

// Close flushes the publisher and closes the detectors
func (s *Server) Close() {
	s.Publisher.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
	s.Log.Infof("Stage timings:\n%v", s.Classifier.Stats().Summary())
}

func (s *Server) String() string {
	return fmt.Sprintf("railalert server (run %v)", s.RunID)
}
