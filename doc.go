// Package autoversion is the composition root of the auto-versioning engine.
//
// A vault is a directory of markdown nodes. Nodes carrying the cm:versionable
// aspect get a version history. Every change goes through a transaction; at
// commit the transaction reports its lifecycle events to the dispatcher,
// which decides per event whether the node deserves a new version:
//
//   - adding cm:versionable creates the initial version (cm:initialVersion)
//   - content updates create a minor version (cm:autoVersion)
//   - property updates create a minor version when cm:autoVersionOnUpdateProps
//     is set, subject to the excluded properties
//   - association changes create a minor version when enabled, throttled by
//     association_delay_seconds
//
// A node is versioned at most once per transaction.
//
// Usage:
//
//	engine, err := autoversion.New("./vault",
//		autoversion.WithAutoInit(true),
//		autoversion.WithLogger(logger),
//	)
//
//	tx, _ := engine.Begin(ctx)
//	_ = tx.WriteContent(ctx, "notes/report", "# Report")
//	err = tx.Commit(ctx, "update report")
package autoversion
