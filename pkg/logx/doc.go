// Package logx is the structured logging kit used across ls-dispatch.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional systemd journal sink (level-mapped priorities)
//
// The zero Logger value is a safe no-op, so library code can log
// unconditionally without nil checks.
package logx
