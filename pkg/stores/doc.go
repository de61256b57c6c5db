// Package stores persists stackzilla state in SQLite: resources and their
// attribute values, database metadata, the blueprint modules last applied
// and the history of apply runs. The schema is managed with golang-migrate
// from embedded migrations.
package stores
