// Package logx is newsbot's structured logging wrapper around zerolog.
//
// Console output stays short (compact timestamp, file:line caller). File and
// JSON outputs keep fields structured. An optional alert sink forwards
// warnings and errors to an operator chat through a rate-limited queue.
package logx
