// Package logx configures tflsched's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller), or JSON lines
//     when the process runs under a log collector
//   - File output JSON-structured
//   - Sinks and level swappable at runtime (config hot reload)
package logx
