package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
)

const defaultListLimit = 100

// HistoryStore handles diagnostic and command history persistence.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a new history storage handler.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record stores a finished diagnostic or command run. runErr is the error
// the tool returned, if any.
func (s *HistoryStore) Record(d model.Diagnostic, runErr error) (*model.HistoryEntry, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", d.Tool(), err)
	}

	entry := &model.HistoryEntry{Tool: d.Tool(), Data: string(data), Timestamp: time.Now().UTC()}
	if runErr != nil {
		entry.ErrorKind = string(apperr.KindOf(runErr))
	}

	switch r := d.(type) {
	case *model.PingResult:
		entry.Target = r.Host
		entry.Success = r.Success
		entry.Summary = fmt.Sprintf("%d/%d received, %.1f%% loss, avg %.2f ms",
			r.PacketsReceived, r.PacketsSent, r.PacketLossPercent, r.AvgMs)
		entry.Timestamp = stamp(r.Timestamp)
	case *model.TracerouteResult:
		entry.Target = r.Host
		entry.Success = r.Success
		entry.Summary = fmt.Sprintf("%d hops, reached=%t", len(r.Hops), r.ReachedTarget)
		entry.Timestamp = stamp(r.Timestamp)
	case *model.PortScanResult:
		entry.Target = r.Target
		entry.Success = runErr == nil
		entry.Summary = fmt.Sprintf("%d/%d open", len(r.OpenPorts), len(r.Ports))
		entry.Timestamp = stamp(r.Timestamp)
	case *model.CommandResult:
		entry.Target = r.Host
		entry.Success = r.Success
		entry.ErrorKind = r.ErrorKind
		entry.Summary = fmt.Sprintf("%d commands", len(r.Outputs))
		if r.Fields["hostname"] != "" {
			entry.Summary += " on " + r.Fields["hostname"]
		}
		entry.Timestamp = stamp(r.Timestamp)
	default:
		return nil, fmt.Errorf("unsupported history record %T", d)
	}
	if !entry.Success && runErr != nil {
		entry.Summary = strings.TrimSpace(entry.Summary + "; " + runErr.Error())
	}

	if err := s.Save(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// Save stores an entry and sets its ID.
func (s *HistoryStore) Save(entry *model.HistoryEntry) error {
	return s.db.WithLock(func() error {
		result, err := s.db.Exec(
			`INSERT INTO history (tool, target, success, summary, error_kind, data, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.Tool, entry.Target, entry.Success, entry.Summary, entry.ErrorKind, entry.Data, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert history: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get history ID: %w", err)
		}
		entry.ID = id
		return nil
	})
}

// Get returns one entry, or nil if it does not exist.
func (s *HistoryStore) Get(id int64) (*model.HistoryEntry, error) {
	var entry *model.HistoryEntry
	err := s.db.WithRLock(func() error {
		row := s.db.QueryRow(
			`SELECT id, tool, target, success, summary, error_kind, data, timestamp
			 FROM history WHERE id = ?`, id)
		e, err := scanEntry(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get history %d: %w", id, err)
		}
		entry = e
		return nil
	})
	return entry, err
}

// List returns the newest entries first. Empty tool or target match all.
func (s *HistoryStore) List(tool, target string, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, tool, target, success, summary, error_kind, data, timestamp FROM history`
	var (
		where []string
		args  []interface{}
	)
	if tool != "" {
		where = append(where, "tool = ?")
		args = append(args, tool)
	}
	if target != "" {
		where = append(where, "target = ?")
		args = append(args, target)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	entries := []model.HistoryEntry{}
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to query history: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("failed to scan history: %w", err)
			}
			entries = append(entries, *e)
		}
		return rows.Err()
	})
	return entries, err
}

// Between returns entries with since <= timestamp < until, oldest first.
func (s *HistoryStore) Between(since, until time.Time) ([]model.HistoryEntry, error) {
	entries := []model.HistoryEntry{}
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(
			`SELECT id, tool, target, success, summary, error_kind, data, timestamp
			 FROM history WHERE timestamp >= ? AND timestamp < ?
			 ORDER BY timestamp ASC, id ASC`, since.UTC(), until.UTC())
		if err != nil {
			return fmt.Errorf("failed to query history: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("failed to scan history: %w", err)
			}
			entries = append(entries, *e)
		}
		return rows.Err()
	})
	return entries, err
}

// Stats returns per-tool totals.
func (s *HistoryStore) Stats() ([]model.HistoryStats, error) {
	stats := []model.HistoryStats{}
	err := s.db.WithRLock(func() error {
		rows, err := s.db.Query(
			`SELECT tool, COUNT(*), COALESCE(SUM(success), 0), COUNT(DISTINCT target)
			 FROM history GROUP BY tool ORDER BY tool`)
		if err != nil {
			return fmt.Errorf("failed to query history stats: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var st model.HistoryStats
			if err := rows.Scan(&st.Tool, &st.Total, &st.Succeeded, &st.Targets); err != nil {
				return fmt.Errorf("failed to scan history stats: %w", err)
			}
			stats = append(stats, st)
		}
		return rows.Err()
	})
	return stats, err
}

// Prune deletes entries older than before and returns how many were removed.
func (s *HistoryStore) Prune(before time.Time) (int64, error) {
	var n int64
	err := s.db.WithLock(func() error {
		result, err := s.db.Exec("DELETE FROM history WHERE timestamp < ?", before.UTC())
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(sc scanner) (*model.HistoryEntry, error) {
	var (
		e         model.HistoryEntry
		summary   sql.NullString
		errorKind sql.NullString
		data      sql.NullString
	)
	if err := sc.Scan(&e.ID, &e.Tool, &e.Target, &e.Success, &summary, &errorKind, &data, &e.Timestamp); err != nil {
		return nil, err
	}
	e.Summary = summary.String
	e.ErrorKind = errorKind.String
	e.Data = data.String
	return &e, nil
}
