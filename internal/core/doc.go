// Package core provides the business logic behind the upload page.
//
// The package is independent of any UI or transport layer. Web handlers and
// tests drive it the same way.
//
// # Sessions
//
// Every browser session owns a [staging.Store] holding its slots. Stores are
// created on first use and ended by [Service.EndSession] or by the sweep
// scheduler once the session has been idle longer than the session TTL.
// Ending a session releases its staged files.
//
// # Submitting
//
// [Service.Submit] sends the whole content of one slot to the processing
// backend in a single request:
//
//  1. An empty slot fails with [ErrEmptySelection].
//  2. The slot's key is claimed; a second submit of the same slot while the
//     first runs fails with [ErrSubmissionInFlight].
//  3. A global limiter caps concurrent submissions; waiting too long fails
//     with [ErrTooManySubmissions].
//  4. The backend answer decides the slot's fate. Any failure leaves it
//     untouched; success discards the submitted files.
//
// Every attempt past step 1 is recorded in the [HistoryStore].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - STG001-STG005: staging errors (size, type, index, slot, artifact name)
//   - SUB001-SUB005: submission errors (empty, in flight, busy, timeout)
//   - NET001-NET002: transport errors
//   - APP001-APP002: errors reported by the backend itself
package core
