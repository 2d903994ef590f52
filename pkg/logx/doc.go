// Package logx configures rallybot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - an optional Telegram sink forwards warnings to an operator chat,
//     filtered by min level and rate limited
package logx
