// Package model holds the persistent entities shared by the broadcast engine,
// the subscription state machine, ingestion and storage.
package model
