// Package hierarchy tracks parent/child ownership among plugins.
//
// The hierarchy is a forest stored as an arena of plugin ids: a parent map,
// ordered child lists, a depth map and a root set. Every mutation is
// validated in full before anything changes, so a failed call leaves the
// tree exactly as it was. Mutations hold a single writer lock; queries never
// observe a half-applied change.
//
// The depth of a root is 0 and every edge adds one. Depth and fan-out are
// bounded by the manager's limits. Validate audits the internal tables
// without changing them; Repair is the explicit fix.
package hierarchy
