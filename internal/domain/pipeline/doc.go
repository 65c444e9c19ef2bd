// Package pipeline contains the packaging state machine.
//
// A run walks Start → DependencyPrep → Clean → Build → CopyAssets → Manifest
// → Archive → Reveal → Done. Any step that can fail may move to Abort instead.
// No state is visited twice and there are no loops or retries.
package pipeline
