// Package models defines the core domain types for groupledger.
//
// # Domain types
//
//   - Member: one participant of a group ledger session
//   - Expense: one shared expense inside a group
//   - Session: the descriptor of a live group connection
//   - SettlementPlan: transfers and balances that clear the group
//
// # Wire types
//
// Message is the decoded form of an inbound session frame. Frames are JSON
// text tagged by a "type" field; Message carries that tag as Kind plus the
// kind-specific payload. Non-JSON frames are wrapped as KindText and frames
// with an unrecognized tag become KindUnknown, so nothing the server sends
// is silently dropped.
//
// # Design principles
//
//  1. References between records use IDs, never pointers.
//  2. Amounts are money.Cents everywhere; the wire carries major-unit
//     decimals and conversion happens at the codec boundary.
//  3. Records cached locally round-trip through JSON, so every persisted
//     field has an explicit tag.
package models
