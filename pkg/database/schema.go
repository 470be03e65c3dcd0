package database

import (
	"database/sql"
	"fmt"
)

// RequiredTables maps each table the store relies on to its purpose.
var RequiredTables = map[string]string{
	"users":             "accounts and presence status",
	"friend_requests":   "pending and answered friend requests",
	"friends":           "symmetric friendship rows",
	"chat_groups":       "group metadata",
	"group_members":     "group membership",
	"messages":          "private and group messages",
	"calls":             "call records",
	"schema_migrations": "migration tracking",
}

// RequiredIndexes maps each index to the query it serves.
var RequiredIndexes = map[string]string{
	"idx_friend_requests_receiver": "pending request listing",
	"idx_messages_private":         "private conversation history",
	"idx_messages_group_time":      "group history",
	"idx_group_members_user":       "user group listing",
	"idx_calls_participants":       "call lookup",
}

// SchemaValidator checks that a database carries the expected schema.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a validator for db.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateForeignKeys()
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	for table, description := range RequiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateIndexes verifies that all query indexes exist.
func (v *SchemaValidator) ValidateIndexes() error {
	for index, purpose := range RequiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateForeignKeys confirms foreign key enforcement is on for this
// connection.
func (v *SchemaValidator) ValidateForeignKeys() error {
	var enabled int
	if err := v.db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("failed to read foreign_keys pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("foreign key enforcement is disabled")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
