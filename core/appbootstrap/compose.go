package appbootstrap

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"restotrack/api"
	"restotrack/config"
	"restotrack/core/activity"
	"restotrack/core/authz"
	"restotrack/core/escalation"
	"restotrack/core/incidents"
	"restotrack/core/messages"
	"restotrack/core/notify"
	"restotrack/core/store"
	"restotrack/core/unread"
	"restotrack/core/utils"
)

type runtimeComposition struct {
	server    *api.Server
	scheduler *escalation.Scheduler
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	usersStore := store.NewUsersStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	activityStore := store.NewActivityStore(db)
	messagesStore := store.NewMessagesStore(db)
	oncallStore := store.NewOnCallStore(db)
	escalationStore := store.NewEscalationStore(db)
	readStateStore := store.NewReadStateStore(db)

	resolver, err := authz.NewResolver(usersStore, incidentsStore, logger)
	if err != nil {
		return nil, err
	}

	activitySvc := activity.NewService(activityStore, logger)
	incidentsSvc := incidents.NewService(incidentsStore, escalationStore, activitySvc, logger)
	messagesSvc := messages.NewService(messagesStore, logger)

	unreadSvc, err := unread.NewService(incidentsStore, messagesStore, activityStore, readStateStore, resolver, cfg.Unread.CacheSize, logger)
	if err != nil {
		return nil, err
	}
	activitySvc.SetInvalidator(unreadSvc)
	incidentsSvc.SetInvalidator(unreadSvc)
	messagesSvc.SetInvalidator(unreadSvc)

	dispatcher := composeDispatcher(cfg, logger)
	engine := escalation.NewEngine(incidentsStore, oncallStore, escalationStore, usersStore, activitySvc, dispatcher, cfg, logger)
	scheduler := escalation.NewScheduler(engine, escalationStore, cfg, logger)

	server := api.NewServer(cfg, api.Deps{
		IncidentsStore:  incidentsStore,
		OnCallStore:     oncallStore,
		EscalationStore: escalationStore,
		IncidentsSvc:    incidentsSvc,
		ActivitySvc:     activitySvc,
		MessagesSvc:     messagesSvc,
		UnreadSvc:       unreadSvc,
	}, logger)

	return &runtimeComposition{server: server, scheduler: scheduler}, nil
}

// composeDispatcher builds the outbound notification fan-out from
// whatever providers are configured; a missing provider just disables
// that channel.
func composeDispatcher(cfg *config.AppConfig, logger *utils.Logger) *notify.Dispatcher {
	var enc *utils.Encryptor
	if strings.TrimSpace(cfg.EncryptionKey) != "" {
		var err error
		enc, err = utils.NewEncryptorFromString(cfg.EncryptionKey)
		if err != nil {
			logger.Errorf("bootstrap encryptor: %v", err)
		}
	}
	var email notify.EmailSender
	if sender, err := notify.NewHTTPEmailSender(cfg, enc); err == nil {
		email = sender
	} else {
		logger.Warnf("email notifications disabled: %v", err)
	}
	var sms notify.SMSSender
	if sender, err := notify.NewHTTPSMSSender(cfg, enc); err == nil {
		sms = sender
	} else {
		logger.Warnf("sms notifications disabled: %v", err)
	}
	return notify.NewDispatcher(email, sms, logger)
}

// Run wires the whole application together and blocks until SIGINT or
// SIGTERM.
func Run(configPath string) error {
	logger := utils.NewLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, cfg, logger); err != nil {
		return err
	}
	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	if err := comp.scheduler.Start(); err != nil {
		return err
	}
	defer comp.scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- comp.server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Infof("shutting down on signal %s", sig)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return comp.server.Shutdown(shutdownCtx)
}
