package main

import (
	"database/sql"
	"fmt"

	"github.com/hazyhaar/feedveil/classify"
	"github.com/hazyhaar/feedveil/dbopen"
	"github.com/hazyhaar/feedveil/observability"
	"github.com/hazyhaar/feedveil/observe"
	"github.com/hazyhaar/feedveil/oracle"
	"github.com/hazyhaar/feedveil/settings"
)

// settingsStore opens the configured store. db is nil for a YAML store,
// which cannot be watched.
func (a *app) settingsStore() (store settings.Store, db *sql.DB, closeFn func(), err error) {
	if path := a.cfg.Store.SettingsFile; path != "" {
		fs, err := settings.LoadFile(path)
		if err != nil {
			return nil, nil, nil, err
		}
		return fs, nil, func() {}, nil
	}
	db, err = dbopen.Open(a.cfg.Store.SettingsDB, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open settings db: %w", err)
	}
	ds, err := settings.NewDBStore(db)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return ds, db, func() { db.Close() }, nil
}

func (a *app) gateway() (*classify.Gateway, *oracle.Client, error) {
	oc := a.cfg.Oracle
	oc.Logger = a.logger
	client, err := oracle.New(oc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (set FEEDVEIL_API_KEY or OPENROUTER_API_KEY)", err)
	}
	return classify.NewGateway(client, classify.WithLogger(a.logger)), client, nil
}

type diagnostics struct {
	db      *sql.DB
	metrics *observability.Metrics
	journal *observability.Journal
}

func (a *app) diagnostics() (*diagnostics, error) {
	db, err := dbopen.Open(a.cfg.Store.ObservabilityDB,
		dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
	if err != nil {
		return nil, fmt.Errorf("open observability db: %w", err)
	}
	return &diagnostics{
		db:      db,
		metrics: observability.NewMetrics(db, 0, 0, a.logger),
		journal: observability.NewJournal(db, a.logger),
	}, nil
}

func (d *diagnostics) recorder() observe.Recorder {
	return observe.Recorders(d.metrics, d.journal)
}

func (d *diagnostics) close() {
	d.metrics.Close()
	d.db.Close()
}

func (a *app) loopConfig(rec observe.Recorder) observe.Config {
	lc := a.cfg.Pipeline.LoopConfig()
	lc.Logger = a.logger
	lc.Recorder = rec
	return lc
}
