package instance

import (
	"math"
	"time"
)

// EventType enumerates the audit events written to the event log
type EventType string

const (
	EventRegisterServer   EventType = "RegisterServer"
	EventUpdateServer     EventType = "UpdateServer"
	EventDisconnectServer EventType = "DisconnectServer"
	EventServerTimeOut    EventType = "ServerTimeOut"
)

// RegisterStatus is the outcome of a registration
type RegisterStatus string

const (
	// RegisterCreated means a new instance was inserted
	RegisterCreated RegisterStatus = "created"
	// RegisterMatched means the same client re-registered an active name it already holds
	RegisterMatched RegisterStatus = "matched"
	// RegisterNameExists means a different client holds the name; nothing was changed
	RegisterNameExists RegisterStatus = "name_exists"
)

// HeartbeatStatus is the outcome of a heartbeat
type HeartbeatStatus string

const (
	HeartbeatOK HeartbeatStatus = "ok"
	// HeartbeatUnknown means no instance with that id belongs to the client
	HeartbeatUnknown HeartbeatStatus = "unknown"
	// HeartbeatNameExists means the expired instance cannot be revived because its name was taken
	HeartbeatNameExists HeartbeatStatus = "name_exists"
)

// MaxHours is the longest lookback whose start still fits in a time.Duration
const MaxHours = int(math.MaxInt64 / int64(time.Hour))

const (
	// development builds report these versions
	developmentVersion = "Development"
	// values of instance_info are bounded by the column size
	maxInfoLength = 255
)
