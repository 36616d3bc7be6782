// Package rounddb keeps an audit log of coordinator rounds (standardize, test, train)
package rounddb

import (
	"time"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Round is one row of the audit log
type Round struct {
	ID          int64                   `gorm:"primaryKey" json:"id"`
	Kind        string                  `json:"kind"`
	StartedAt   dbh.IntTime             `json:"startedAt"`
	FinishedAt  dbh.IntTime             `json:"finishedAt"` // zero while running
	Units       int                     `json:"units"`
	FailedUnits int                     `json:"failedUnits"`
	Retries     int                     `json:"retries"`
	Failed      bool                    `json:"failed"`
	Summary     *dbh.JSONField[Summary] `json:"summary"`
	Error       string                  `json:"error"`
}

// Summary is the per-label part of a round's results
type Summary struct {
	Labels map[string]map[string]int `json:"labels"` // label -> counter -> value
	Errors []string                  `json:"errors"`
}

type RoundDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open opens or creates the sqlite audit DB at dbFilename
func Open(log logs.Log, dbFilename string, wipe bool) (*RoundDB, error) {
	log.Infof("Opening round DB at %v", dbFilename)
	var db *gorm.DB
	var err error
	if wipe {
		db, err = dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), dbh.DBConnectFlagWipeDB)
	} else {
		db, err = dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	}
	if err != nil {
		return nil, err
	}
	return &RoundDB{
		Log: log,
		DB:  db,
	}, nil
}

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE round(
			id INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			started_at INT NOT NULL,
			finished_at INT,
			units INT NOT NULL DEFAULT 0,
			failed_units INT NOT NULL DEFAULT 0,
			retries INT NOT NULL DEFAULT 0,
			failed BOOLEAN NOT NULL DEFAULT FALSE,
			summary TEXT,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX idx_round_kind_started_at ON round(kind, started_at);
	`))

	return migs
}

// Begin records the start of a round, and returns its id
func (r *RoundDB) Begin(kind string, startedAt time.Time) (int64, error) {
	rec := Round{
		Kind:      kind,
		StartedAt: dbh.MakeIntTime(startedAt),
	}
	if err := r.DB.Create(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// Finish records the results of round id
func (r *RoundDB) Finish(id int64, res coordinator.Results, roundErr error) error {
	summary := dbh.JSONField[Summary]{}
	summary.Data.Labels = map[string]map[string]int{}
	for label, lr := range res.Labels {
		summary.Data.Labels[label] = lr.Counters
	}
	summary.Data.Errors = res.Errors
	errMsg := ""
	if roundErr != nil {
		errMsg = roundErr.Error()
	}
	finished := res.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	return r.DB.Model(&Round{}).Where("id = ?", id).Updates(map[string]any{
		"finished_at":  dbh.MakeIntTime(finished),
		"units":        res.UnitsDone + res.UnitsFailed,
		"failed_units": res.UnitsFailed,
		"retries":      res.Retries,
		"failed":       res.Failed,
		"summary":      &summary,
		"error":        errMsg,
	}).Error
}

// Recent returns the most recent rounds of kind, newest first.
// An empty kind returns rounds of every kind.
func (r *RoundDB) Recent(kind string, limit int) ([]Round, error) {
	rounds := []Round{}
	q := r.DB.Order("started_at DESC, id DESC").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if err := q.Find(&rounds).Error; err != nil {
		return nil, err
	}
	return rounds, nil
}
