// Package series turns log entries into the (x, y) series consumed by a
// renderer.
//
// A Projector selects one x-key and one or more y-keys; an entry is projected
// only when every selected key is present, so the x and y sequences always
// have the same length. A Buffer owns the series and publishes every append as
// a new immutable *Series value, which readers load without locking.
package series
