package database

import "database/sql"

// DB exposes the connection to tests that need raw SQL
func (m *Manager) DB() *sql.DB {
	return m.db
}
