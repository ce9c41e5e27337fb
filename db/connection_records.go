package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"connmonitor/models"
)

type ConnectionRecordsRepository struct {
	db    *sqlx.DB
	table string
}

func NewConnectionRecordsRepository(db *sqlx.DB, schema string) *ConnectionRecordsRepository {
	return &ConnectionRecordsRepository{db: db, table: tableName(db, schema, "connection_records")}
}

const connectionRecordColumns = "id, agent_id, status, project_name, location, metadata, reason, created_at"

func (r *ConnectionRecordsRepository) InsertRecord(ctx context.Context, record *models.ConnectionRecord) error {
	query := r.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, r.table, connectionRecordColumns))

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.AgentID,
		string(record.Status),
		record.ProjectName,
		record.Location,
		record.Metadata,
		record.Reason,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert connection record: %w", err)
	}

	return nil
}

// GetRecordsSince returns records created at or after since, ordered by agent
// and then by time.
func (r *ConnectionRecordsRepository) GetRecordsSince(
	ctx context.Context,
	since time.Time,
) ([]*models.ConnectionRecord, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE created_at >= ?
		ORDER BY agent_id ASC, created_at ASC, id ASC`, connectionRecordColumns, r.table))

	var records []*models.ConnectionRecord
	if err := r.db.SelectContext(ctx, &records, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to get connection records: %w", err)
	}

	return records, nil
}

// GetRecordsByAgentID returns every record of an agent ordered by time.
func (r *ConnectionRecordsRepository) GetRecordsByAgentID(
	ctx context.Context,
	agentID string,
) ([]*models.ConnectionRecord, error) {
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE agent_id = ?
		ORDER BY created_at ASC, id ASC`, connectionRecordColumns, r.table))

	var records []*models.ConnectionRecord
	if err := r.db.SelectContext(ctx, &records, query, agentID); err != nil {
		return nil, fmt.Errorf("failed to get connection records for agent %s: %w", agentID, err)
	}

	return records, nil
}

// DeleteRecordsBefore prunes history older than before and reports how many
// rows were removed.
func (r *ConnectionRecordsRepository) DeleteRecordsBefore(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", r.table))

	result, err := r.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete connection records: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
