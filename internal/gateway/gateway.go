// Package gateway is the boundary to the messaging network.
//
// Every error crossing it is mapped once, by Classify, into a Failure whose
// Class drives the retry decision. Nothing above this package inspects
// transport-specific error shapes.
package gateway

import (
	"context"
	"errors"
)

// MaxMessageLen is Telegram's limit for one text message: UTF-16 units of
// the text left after entity parsing.
const MaxMessageLen = 4096

var (
	ErrMessageTooLong = errors.New("gateway: message exceeds maximum length")
	ErrCircuitOpen    = errors.New("gateway: circuit open")
	ErrNotConfigured  = errors.New("gateway: not configured")
)

// Gateway sends one text message to one recipient.
type Gateway interface {
	SendMessage(ctx context.Context, recipientID int64, text string) error
	// Ping checks that the gateway is reachable and authorized.
	Ping(ctx context.Context) error
}
