package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"wamux/internal/constants"
	"wamux/internal/errors"
	"wamux/internal/events"
	"wamux/internal/middleware"
	"wamux/internal/models"
	"wamux/internal/registry"
	"wamux/internal/validation"
	"wamux/pkg/qr"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	registry *registry.Registry
	hub      *events.Hub
	server   *http.Server
	cfg      *models.Config
}

// apiResponse is the envelope every JSON endpoint uses.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func NewServer(cfg *models.Config, reg *registry.Registry, hub *events.Hub, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		registry: reg,
		hub:      hub,
		cfg:      cfg,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// Static /clients subpaths must register before the collection
	// routes so gorilla matches them first.
	s.router.HandleFunc("/clients/qr", s.handleGetQR()).Methods(http.MethodGet)
	s.router.HandleFunc("/clients/status", s.handleGetStatus()).Methods(http.MethodGet)
	s.router.HandleFunc("/clients/events", s.handleEventFeed()).Methods(http.MethodGet)

	s.router.HandleFunc("/clients", s.handleAddClient()).Methods(http.MethodPost)
	s.router.HandleFunc("/clients", s.handleListClients()).Methods(http.MethodGet)
	s.router.HandleFunc("/clients", s.handleRemoveClient()).Methods(http.MethodDelete)

	s.router.HandleFunc("/webhook", s.handleSetWebhook()).Methods(http.MethodPost)
	s.router.HandleFunc("/messages", s.handleSendMessage()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if port == 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatusCode(err))
	if encErr := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: errors.GetUserMessage(err)}); encErr != nil {
		s.logger.WithError(encErr).Error("Failed to encode error response")
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if err := validation.ValidateHTTPRequestSize(r, constants.MaxHTTPRequestBytes); err != nil {
		return err
	}
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxHTTPRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New(errors.ErrCodeInvalidInput, "invalid JSON body").
			WithUserMessage("Request body must be valid JSON")
	}
	return nil
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"clients": s.registry.Count(),
		})
	}
}

func (s *Server) handleAddClient() http.HandlerFunc {
	type request struct {
		PhoneNumber string `json:"phoneNumber"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := validation.ValidatePhoneNumber(req.PhoneNumber); err != nil {
			s.writeError(w, err)
			return
		}

		session, err := s.registry.AddClient(r.Context(), req.PhoneNumber)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"phoneNumber": session.Identifier(),
			"createdAt":   session.CreatedAt().UTC().Format(time.RFC3339),
			"status":      session.Status(),
		})
	}
}

func (s *Server) handleRemoveClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := r.URL.Query().Get("phoneNumber")
		if err := validation.ValidatePhoneNumber(phone); err != nil {
			s.writeError(w, err)
			return
		}

		if err := s.registry.RemoveClient(r.Context(), phone); err != nil {
			s.writeError(w, err)
			return
		}

		s.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"phoneNumber": phone,
			"removed":     true,
		})
	}
}

func (s *Server) handleListClients() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		page, limit, err := validation.ParseListQuery(query)
		if err != nil {
			s.writeError(w, err)
			return
		}

		var filter *models.SessionStatus
		if raw := query.Get("status"); raw != "" {
			status, ok := models.ParseSessionStatus(raw)
			if !ok {
				s.writeError(w, errors.NewValidationError("status", raw, "unknown session status"))
				return
			}
			filter = &status
		}

		items, pagination := s.registry.ListClients(filter, page, limit)
		s.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"clients":    items,
			"pagination": pagination,
		})
	}
}

func (s *Server) handleGetQR() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := r.URL.Query().Get("phoneNumber")
		if err := validation.ValidatePhoneNumber(phone); err != nil {
			s.writeError(w, err)
			return
		}

		code, ok, err := s.registry.GetPairingCode(phone)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !ok {
			// Unlike unknown clients, a missing pairing code is a plain 404:
			// the client exists, there is just nothing to scan right now.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			if encErr := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: "No QR code is currently available for this client"}); encErr != nil {
				s.logger.WithError(encErr).Error("Failed to encode error response")
			}
			return
		}

		switch output := r.URL.Query().Get("output"); output {
		case "", "json":
			s.writeSuccess(w, http.StatusOK, map[string]interface{}{
				"phoneNumber": phone,
				"qr":          code,
			})
		case "svg":
			svg, err := qr.RenderSVG(code)
			if err != nil {
				s.writeError(w, errors.Wrap(err, errors.ErrCodeInternalError, "failed to render QR code"))
				return
			}
			w.Header().Set("Content-Type", "image/svg+xml")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte(svg)); err != nil {
				s.logger.WithError(err).Error("Failed to write SVG response")
			}
		case "png":
			png, err := qr.RenderPNG(code, constants.DefaultQRImageSize)
			if err != nil {
				s.writeError(w, errors.Wrap(err, errors.ErrCodeInternalError, "failed to render QR code"))
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write(png); err != nil {
				s.logger.WithError(err).Error("Failed to write PNG response")
			}
		default:
			s.writeError(w, errors.NewValidationError("output", output, "must be one of json, svg, png"))
		}
	}
}

func (s *Server) handleGetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := r.URL.Query().Get("phoneNumber")
		if err := validation.ValidatePhoneNumber(phone); err != nil {
			s.writeError(w, err)
			return
		}

		status, err := s.registry.GetStatus(phone)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"phoneNumber": phone,
			"status":      status,
		})
	}
}

func (s *Server) handleSetWebhook() http.HandlerFunc {
	type request struct {
		PhoneNumber string `json:"phoneNumber"`
		URL         string `json:"url"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := validation.ValidatePhoneNumber(req.PhoneNumber); err != nil {
			s.writeError(w, err)
			return
		}
		if err := validation.ValidateWebhookURL(req.URL); err != nil {
			s.writeError(w, err)
			return
		}

		if err := s.registry.SetWebhook(req.PhoneNumber, req.URL); err != nil {
			s.writeError(w, err)
			return
		}

		s.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"phoneNumber": req.PhoneNumber,
			"webhookSet":  true,
		})
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	type request struct {
		PhoneNumber string `json:"phoneNumber"`
		To          string `json:"to"`
		Message     string `json:"message"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := s.decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := validation.ValidatePhoneNumber(req.PhoneNumber); err != nil {
			s.writeError(w, err)
			return
		}
		if err := validation.ValidatePhoneNumber(req.To); err != nil {
			s.writeError(w, err)
			return
		}
		if err := validation.ValidateMessageBody(req.Message); err != nil {
			s.writeError(w, err)
			return
		}

		resp, err := s.registry.SendMessage(r.Context(), req.PhoneNumber, req.To, req.Message)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeSuccess(w, http.StatusOK, map[string]interface{}{
			"messageId": resp.MessageID,
		})
	}
}

func (s *Server) handleEventFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.hub.ServeWS(w, r)
	}
}
