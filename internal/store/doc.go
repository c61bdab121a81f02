// Package store provides persistent storage for clawhuddle using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with small
// interfaces composed into Store:
//
//   - MemberStore: org members and their embedded gateway record
//   - CredentialStore: provider credentials and per-provider model overrides
//   - SkillStore: the skill registry and per-user assignments
//   - ChannelStore: per-member messaging channel bot tokens
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory implementation for tests.
//
// # Gateway Record
//
// The four gateway fields (port, status, token, subdomain) live on the
// org_members row. Zero values in Gateway are stored as NULL, so a member
// that has never been provisioned, or whose gateway was removed, reads back
// as the zero Gateway. The orchestrator is the only writer of these fields.
//
// # Schema Migrations
//
// Tables are created with CREATE TABLE IF NOT EXISTS. Columns added after a
// table first shipped are applied by runMigrations, which checks
// pragma_table_info before each ALTER TABLE.
package store
