// Package capability maps unique names to live service instances that
// plugins provide to each other.
//
// Providing and retracting a capability announces it on the bus with the
// plugin.debut and plugin.retirement notices. Lookups are synchronous and
// report absence with a boolean rather than an error.
package capability
