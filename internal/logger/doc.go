// Package logger wraps zap for distpack:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - key-value helpers (InfoKV, WarnKV, DebugKV),
//   - WithLevel for runs that must stay quieter than the shared level.
//
// Every pipeline step receives a context and logs through it, so step names
// and the target name travel with each line.
package logger
