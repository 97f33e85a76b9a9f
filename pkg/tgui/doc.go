// Package tgui holds small helpers for Telegram HTML messages: escaping,
// rune-safe truncation, a line builder, callback data and inline keyboards.
package tgui
