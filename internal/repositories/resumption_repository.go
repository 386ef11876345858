package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bountyWeb/internal/models"
)

const resumptionSchema = `CREATE TABLE IF NOT EXISTS payment_resumptions (
	id VARCHAR(36) PRIMARY KEY,
	session_id VARCHAR(64) NOT NULL,
	kind VARCHAR(32) NOT NULL,
	reference_id BIGINT NOT NULL,
	challenge_id BIGINT NOT NULL DEFAULT 0,
	outcome VARCHAR(16) NOT NULL,
	final_status VARCHAR(16) NOT NULL DEFAULT '',
	message TEXT,
	polls INT NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
)`

// ResumptionRepository journals finished reconciliations. A nil repository or
// one without a DB is a no-op, so the journal stays optional.
type ResumptionRepository struct {
	DB     *sql.DB
	Driver string
}

func NewResumptionRepository(db *sql.DB, driver string) *ResumptionRepository {
	return &ResumptionRepository{DB: db, Driver: driver}
}

func (r *ResumptionRepository) enabled() bool {
	return r != nil && r.DB != nil
}

// rebind turns ? placeholders into $n for postgres.
func (r *ResumptionRepository) rebind(query string) string {
	if r.Driver != "pgx" && r.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *ResumptionRepository) EnsureSchema(ctx context.Context) error {
	if !r.enabled() {
		return nil
	}
	if _, err := r.DB.ExecContext(ctx, resumptionSchema); err != nil {
		return fmt.Errorf("ensure resumption schema: %w", err)
	}
	return nil
}

func (r *ResumptionRepository) Record(ctx context.Context, rec models.Resumption) error {
	if !r.enabled() {
		return nil
	}
	query := r.rebind(`INSERT INTO payment_resumptions (id, session_id, kind, reference_id, challenge_id, outcome, final_status, message, polls, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.DB.ExecContext(ctx, query,
		rec.ID, rec.SessionID, string(rec.Kind), rec.ReferenceID, rec.ChallengeID,
		string(rec.Outcome), rec.FinalStatus, rec.Message, rec.Polls,
		rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record resumption: %w", err)
	}
	return nil
}

func (r *ResumptionRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]models.Resumption, error) {
	if !r.enabled() {
		return []models.Resumption{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := r.rebind(`SELECT id, kind, reference_id, challenge_id, outcome, final_status, message, polls, started_at, finished_at FROM payment_resumptions WHERE session_id = ? ORDER BY finished_at DESC LIMIT ?`)
	rows, err := r.DB.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Resumption{}
	for rows.Next() {
		rec, err := scanResumption(rows)
		if err != nil {
			return nil, err
		}
		rec.SessionID = sessionID
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBefore prunes journal rows finished before cutoff.
func (r *ResumptionRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if !r.enabled() {
		return 0, nil
	}
	res, err := r.DB.ExecContext(ctx, r.rebind(`DELETE FROM payment_resumptions WHERE finished_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanResumption(scanner interface{ Scan(dest ...any) error }) (models.Resumption, error) {
	var rec models.Resumption
	var kind, outcome string
	var message sql.NullString
	err := scanner.Scan(&rec.ID, &kind, &rec.ReferenceID, &rec.ChallengeID, &outcome,
		&rec.FinalStatus, &message, &rec.Polls, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		return models.Resumption{}, err
	}
	rec.Kind = models.IntentKind(kind)
	rec.Outcome = models.Outcome(outcome)
	rec.Message = message.String
	return rec, nil
}
