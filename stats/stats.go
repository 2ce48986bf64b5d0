package stats

// VersionInfo is the activity of one client version within a window
type VersionInfo struct {
	Version string `json:"version"`
	Servers int64  `json:"servers"`
	Players int64  `json:"players"`
}

// Window holds the per-version breakdown for one lookback period
type Window struct {
	Hours       int           `json:"hours"`
	VersionInfo []VersionInfo `json:"versionInfo"`
}

// Day is the per-version breakdown of a single weekday
type Day struct {
	VersionInfo []VersionInfo `json:"versionInfo"`
}

// DayWindow holds one Day per weekday, Sunday first
type DayWindow struct {
	Hours int    `json:"hours"`
	Days  [7]Day `json:"days"`
}

// DaysResult is the weekday breakdown of every requested window
type DaysResult struct {
	Timezone string      `json:"timezone"`
	Data     []DayWindow `json:"data"`
}

// VersionRow is a row of the per-version aggregation
type VersionRow struct {
	Version string
	Servers int64
	Players int64
}

// WeekdayRow is a row of the per-weekday aggregation. Weekday 0 is Sunday.
type WeekdayRow struct {
	Weekday int
	Version string
	Servers int64
	Players int64
}

const defaultTimezone = "UTC"
