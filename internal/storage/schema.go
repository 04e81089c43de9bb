package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements creates the current/history table pairs of spec.md §6.4.
// Dolt's own per-row version history (dolt_history_*) is additional
// defense-in-depth; the history tables below are written explicitly so the
// schema matches spec.md exactly regardless of storage engine (see
// SPEC_FULL.md's DOMAIN STACK section).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS changesets (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		owner_user_id BIGINT UNSIGNED NOT NULL,
		created_at DATETIME NOT NULL,
		closed_at DATETIME NOT NULL,
		num_changes INT UNSIGNED NOT NULL DEFAULT 0,
		min_lon BIGINT NULL,
		min_lat BIGINT NULL,
		max_lon BIGINT NULL,
		max_lat BIGINT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS current_nodes (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		lat_int BIGINT NOT NULL,
		lon_int BIGINT NOT NULL,
		changeset_id BIGINT UNSIGNED NOT NULL,
		visible BOOLEAN NOT NULL,
		ts DATETIME NOT NULL,
		tile INT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS current_node_tags (
		node_id BIGINT UNSIGNED NOT NULL,
		k VARCHAR(255) NOT NULL,
		v VARCHAR(255) NOT NULL,
		PRIMARY KEY (node_id, k)
	)`,
	`CREATE TABLE IF NOT EXISTS node_history (
		id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		lat_int BIGINT NOT NULL,
		lon_int BIGINT NOT NULL,
		changeset_id BIGINT UNSIGNED NOT NULL,
		visible BOOLEAN NOT NULL,
		ts DATETIME NOT NULL,
		tile INT UNSIGNED NOT NULL,
		redaction_id BIGINT UNSIGNED NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS node_tags_history (
		node_id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		k VARCHAR(255) NOT NULL,
		v VARCHAR(255) NOT NULL,
		PRIMARY KEY (node_id, version, k)
	)`,

	`CREATE TABLE IF NOT EXISTS current_ways (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		changeset_id BIGINT UNSIGNED NOT NULL,
		visible BOOLEAN NOT NULL,
		ts DATETIME NOT NULL,
		version INT UNSIGNED NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS current_way_tags (
		way_id BIGINT UNSIGNED NOT NULL,
		k VARCHAR(255) NOT NULL,
		v VARCHAR(255) NOT NULL,
		PRIMARY KEY (way_id, k)
	)`,
	`CREATE TABLE IF NOT EXISTS current_way_nodes (
		way_id BIGINT UNSIGNED NOT NULL,
		node_id BIGINT UNSIGNED NOT NULL,
		sequence_id INT UNSIGNED NOT NULL,
		PRIMARY KEY (way_id, sequence_id)
	)`,
	`CREATE TABLE IF NOT EXISTS way_history (
		id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		changeset_id BIGINT UNSIGNED NOT NULL,
		visible BOOLEAN NOT NULL,
		ts DATETIME NOT NULL,
		redaction_id BIGINT UNSIGNED NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS way_tags_history (
		way_id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		k VARCHAR(255) NOT NULL,
		v VARCHAR(255) NOT NULL,
		PRIMARY KEY (way_id, version, k)
	)`,
	`CREATE TABLE IF NOT EXISTS way_nodes_history (
		way_id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		node_id BIGINT UNSIGNED NOT NULL,
		sequence_id INT UNSIGNED NOT NULL,
		PRIMARY KEY (way_id, version, sequence_id)
	)`,

	`CREATE TABLE IF NOT EXISTS current_relations (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		changeset_id BIGINT UNSIGNED NOT NULL,
		visible BOOLEAN NOT NULL,
		ts DATETIME NOT NULL,
		version INT UNSIGNED NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS current_relation_tags (
		relation_id BIGINT UNSIGNED NOT NULL,
		k VARCHAR(255) NOT NULL,
		v VARCHAR(255) NOT NULL,
		PRIMARY KEY (relation_id, k)
	)`,
	`CREATE TABLE IF NOT EXISTS current_relation_members (
		relation_id BIGINT UNSIGNED NOT NULL,
		member_type VARCHAR(8) NOT NULL,
		member_id BIGINT UNSIGNED NOT NULL,
		member_role VARCHAR(255) NOT NULL,
		sequence_id INT UNSIGNED NOT NULL,
		PRIMARY KEY (relation_id, sequence_id)
	)`,
	`CREATE TABLE IF NOT EXISTS relation_history (
		id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		changeset_id BIGINT UNSIGNED NOT NULL,
		visible BOOLEAN NOT NULL,
		ts DATETIME NOT NULL,
		redaction_id BIGINT UNSIGNED NULL,
		PRIMARY KEY (id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS relation_tags_history (
		relation_id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		k VARCHAR(255) NOT NULL,
		v VARCHAR(255) NOT NULL,
		PRIMARY KEY (relation_id, version, k)
	)`,
	`CREATE TABLE IF NOT EXISTS relation_members_history (
		relation_id BIGINT UNSIGNED NOT NULL,
		version INT UNSIGNED NOT NULL,
		member_type VARCHAR(8) NOT NULL,
		member_id BIGINT UNSIGNED NOT NULL,
		member_role VARCHAR(255) NOT NULL,
		sequence_id INT UNSIGNED NOT NULL,
		PRIMARY KEY (relation_id, version, sequence_id)
	)`,
}

// initSchemaOnDB creates every table idempotently, mirroring
// internal/storage/dolt/store_embedded.go's initSchemaOnDB unit of work.
func initSchemaOnDB(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema init failed for statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
