// Package logx configures spclaim's structured logging.
//
// A small value type (logx.Logger) wraps zerolog so that:
//   - console output stays readable (short timestamp + file:line caller)
//   - the optional file sink is JSON, one event per line
//   - sinks and level can be swapped at runtime on config reload
package logx
