package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"restotrack/api/handlers"
	"restotrack/config"
	"restotrack/core/activity"
	"restotrack/core/incidents"
	"restotrack/core/messages"
	"restotrack/core/store"
	"restotrack/core/unread"
	"restotrack/core/utils"
)

type Server struct {
	cfg    *config.AppConfig
	logger *utils.Logger
	http   *http.Server

	incidentsHandler *handlers.IncidentsHandler
	activityHandler  *handlers.ActivityHandler
	messagesHandler  *handlers.MessagesHandler
	unreadHandler    *handlers.UnreadHandler
	oncallHandler    *handlers.OnCallHandler
}

type Deps struct {
	IncidentsStore  store.IncidentsStore
	OnCallStore     store.OnCallStore
	EscalationStore store.EscalationStore

	IncidentsSvc *incidents.Service
	ActivitySvc  *activity.Service
	MessagesSvc  *messages.Service
	UnreadSvc    *unread.Service
}

func NewServer(cfg *config.AppConfig, deps Deps, logger *utils.Logger) *Server {
	s := &Server{
		cfg:              cfg,
		logger:           logger,
		incidentsHandler: handlers.NewIncidentsHandler(deps.IncidentsStore, deps.IncidentsSvc, logger),
		activityHandler:  handlers.NewActivityHandler(deps.ActivitySvc, logger),
		messagesHandler:  handlers.NewMessagesHandler(deps.MessagesSvc, deps.UnreadSvc, logger),
		unreadHandler:    handlers.NewUnreadHandler(deps.UnreadSvc, logger),
		oncallHandler:    handlers.NewOnCallHandler(deps.OnCallStore, deps.EscalationStore, logger),
	}
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.Post("/", s.incidentsHandler.Create)
			r.Get("/", s.incidentsHandler.List)
			r.Route("/{id:[0-9]+}", func(r chi.Router) {
				r.Get("/", s.incidentsHandler.Get)
				r.Post("/transition", s.incidentsHandler.Transition)
				r.Post("/assign", s.incidentsHandler.Assign)
				r.Get("/activity", s.activityHandler.Timeline)
				r.Post("/activity", s.activityHandler.Log)
				r.Get("/messages", s.messagesHandler.Thread)
				r.Post("/messages", s.messagesHandler.Post)
				r.Post("/read/messages", s.messagesHandler.MarkMessagesRead)
				r.Post("/read/activity", s.messagesHandler.MarkActivityRead)
				r.Get("/escalations", s.oncallHandler.ListEscalations)
			})
		})
		r.Get("/unread", s.unreadHandler.HasUnread)
		r.Get("/unread/counts", s.unreadHandler.Counts)
		r.Route("/organizations/{org_id:[0-9]+}/oncall", func(r chi.Router) {
			r.Get("/", s.oncallHandler.Get)
			r.Put("/", s.oncallHandler.Put)
		})
	})
	return r
}

func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Infof("http server listening on %s", s.cfg.ListenAddr)
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
