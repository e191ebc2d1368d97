// Package database opens the PostgreSQL pool used by the audit trail.
package database
