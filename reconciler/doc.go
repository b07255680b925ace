// Package reconciler applies live envelopes on top of a snapshot.
//
// A Reconciler holds the last applied sequence number, initialized from the
// snapshot it follows. Each envelope is compared against it:
//
//	seq <= lastApplied          drop (already in the snapshot or applied)
//	projection fails            drop, but lastApplied = seq
//	otherwise                   append to the sink, lastApplied = seq
//
// Comparing sequence numbers, rather than relying on arrival order, is what
// makes subscribing before the snapshot request safe: whatever the live feed
// delivers that the snapshot already covers is filtered out.
package reconciler
