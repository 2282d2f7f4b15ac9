package models

import (
	"encoding/json"
	"time"
)

// QueueKind, offline queue entry'sinin hangi kuyruğa ait olduğu.
// İki kuyruk bağımsız flush edilir; biri diğerini bloklamaz.
type QueueKind string

const (
	QueueBroadcast QueueKind = "broadcast"
	QueueStore     QueueKind = "store"
)

// OfflineQueueEntry, bekleyen bir broadcast payload'u veya store yazımı.
// ID payload'un kendi id'sidir (mesaj/reaction id); replay idempotent'tir.
type OfflineQueueEntry struct {
	Kind     QueueKind       `json:"kind"`
	ID       string          `json:"id"`
	Topic    string          `json:"topic,omitempty"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queued_at"`
	Attempts int             `json:"attempts"`
}
