package services

import (
	"github.com/travauxroutiers/signalement-app/hub"
	"github.com/travauxroutiers/signalement-app/store"
)

// Engine wires the three listeners for one session. Shared state (skip set,
// status catalog) is injected, never ambient.
type Engine struct {
	Session  Session
	Reports  *ReportListener
	Progress *ProgressListener
	Notifier *Notifier
}

func NewEngine(st store.Store, catalog *StatusCatalog, skip *SkipSet, alerts *hub.Hub, session Session) *Engine {
	return &Engine{
		Session:  session,
		Reports:  NewReportListener(st, skip, session),
		Progress: NewProgressListener(st, catalog, skip, session),
		Notifier: NewNotifier(st, catalog, alerts, session.UserID),
	}
}

func (e *Engine) Start() error {
	if err := e.Reports.Start(); err != nil {
		return err
	}
	if err := e.Progress.Start(); err != nil {
		e.Reports.Stop()
		return err
	}
	if err := e.Notifier.StartListening(); err != nil {
		e.Progress.Stop()
		e.Reports.Stop()
		return err
	}
	return nil
}

func (e *Engine) Stop() {
	e.Notifier.StopListening()
	e.Progress.Stop()
	e.Reports.Stop()
}
