// Package version computes freshness watermarks for remote collections.
//
// A watermark is the newest value of a collection's update-time column, or of
// its create-time column when the collection has no update-time column. The
// Oracle remembers, per collection, whether each column exists (a tri-state
// Capability) so a collection lacking a column is not probed for it again.
// The capability table is loaded once from a CapabilityStore and written back
// whenever a flag changes.
//
// # Comparison
//
// Watermarks are opaque strings compared with Newer and Max. When both values
// parse as RFC 3339 timestamps they are compared as instants, so offsets and
// fractional-second precision do not matter; otherwise they are compared
// byte-wise. Sources should emit one encoding (see remote.NormalizeTimestamp).
//
// # Usage
//
//	oracle, err := version.New(version.Config{
//	    Source: src,
//	    Store:  backend, // any CapabilityStore
//	})
//	if err := oracle.Load(ctx); err != nil {
//	    return err
//	}
//	marks := oracle.Watermarks(ctx, []string{"pieces", "poets"})
package version
