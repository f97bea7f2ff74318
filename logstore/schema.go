package logstore

import (
	"fmt"
	"regexp"
)

// DefaultTable is the table log entries are stored in when none is configured.
const DefaultTable = "operation_log"

const (
	sCHEMA_LOG_ENTRIES = `
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT not null,
			plugin_id   TEXT not null,
			severity    INT not null,
			message     TEXT not null,
			entry       TEXT not null,
			created_at  BIGINT not null,

			PRIMARY KEY(id)
		);`

	qINSERT_ENTRY = `INSERT INTO %s (id, plugin_id, severity, message, entry, created_at) VALUES ($1, $2, $3, $4, $5, $6)`
	qSELECT_ENTRY = `SELECT entry FROM %s WHERE id = $1`
	qSELECT_ALL   = `SELECT entry FROM %s`
	qDELETE_OLDER = `DELETE FROM %s WHERE created_at < $1`
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// queries holds the statements for one table.
type queries struct {
	schema      string
	insert      string
	selectOne   string
	selectAll   string
	deleteOlder string
}

func newQueries(table string) (queries, error) {
	if !tableName.MatchString(table) {
		return queries{}, fmt.Errorf("invalid table name %q", table)
	}

	return queries{
		schema:      fmt.Sprintf(sCHEMA_LOG_ENTRIES, table),
		insert:      fmt.Sprintf(qINSERT_ENTRY, table),
		selectOne:   fmt.Sprintf(qSELECT_ENTRY, table),
		selectAll:   fmt.Sprintf(qSELECT_ALL, table),
		deleteOlder: fmt.Sprintf(qDELETE_OLDER, table),
	}, nil
}
