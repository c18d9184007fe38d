package types

// Version is the canonical project version.
// It is reported by the CLI, in run reports and in completion events.
const Version = "0.3.0"

// UserAgent is sent on every outbound archive request.
const UserAgent = "pgnstream/" + Version
