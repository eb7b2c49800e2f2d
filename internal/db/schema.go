package db

import _ "embed"

//go:embed schema.sql
var Schema string

type EventKind string

const (
	EVENT_FOLLOW   EventKind = "follow"
	EVENT_PURCHASE EventKind = "purchase"
	EVENT_DOWNLOAD EventKind = "download"
)
