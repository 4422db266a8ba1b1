// Package endpoint defines the opaque replica identity shared by every
// piece of the adaptive read path: the rate limiters, the score tracker,
// the replica-group gate, and the admission decision all key their state
// off this single type.
package endpoint

// ID identifies a single cluster member the way cluster.Node already does
// (its NodeID). It is hashable and comparable, which is all the adaptive
// subsystem requires of a replica identity — who actually owns the
// network connection, retry policy, and topology metadata behind an ID is
// cluster.Membership's concern, not this package's.
type ID string
