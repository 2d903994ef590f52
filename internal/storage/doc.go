// Package storage persists seasons and outstanding interactive menus.
//
// Two backends implement Store:
//   - "sqlite": embedded database file (modernc.org/sqlite, pure Go)
//   - "postgres": server database through a pgx connection pool
//
// The scheduler reads active seasons through it; the reaper selects and
// deletes expired menu rows.
package storage
