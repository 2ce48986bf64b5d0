package instance

import "time"

// Instance describes one registered MapTool server process
type Instance struct {
	// UUID assigned by the registry
	ID string `json:"id" gorm:"primaryKey;size:36"`
	// Identity asserted by the MapTool client, stable across restarts
	ClientID string `json:"-" gorm:"index;not null"`
	// Unique among active instances
	Name string `json:"name" gorm:"not null;index:idx_instance_active_name,unique,where:active = true"`
	// Addresses are cleared when the instance times out
	Address       *string   `json:"address"`
	IPv4          *string   `json:"ipv4" gorm:"column:ipv4"`
	IPv6          *string   `json:"ipv6" gorm:"column:ipv6"`
	Port          int       `json:"port"`
	Public        bool      `json:"-" gorm:"not null"`
	Version       string    `json:"version" gorm:"index"`
	CountryCode   string    `json:"country"`
	Language      string    `json:"language"`
	Timezone      string    `json:"timezone"`
	WebRTC        bool      `json:"webrtc" gorm:"column:webrtc;not null"`
	Active        bool      `json:"active" gorm:"index;not null"`
	FirstSeen     time.Time `json:"firstSeen" gorm:"not null"`
	LastHeartbeat time.Time `json:"lastHeartbeat" gorm:"index;not null"`
}

func (Instance) TableName() string {
	return "instance"
}

// Addresses returns the network addresses currently recorded for the instance
func (i *Instance) Addresses() Addresses {
	return Addresses{
		Address: deref(i.Address),
		IPv4:    deref(i.IPv4),
		IPv6:    deref(i.IPv6),
	}
}

// Info is one free-form name/value metadata pair reported by an instance
type Info struct {
	ID         uint   `json:"-" gorm:"primaryKey"`
	InstanceID string `json:"-" gorm:"index;not null;size:36"`
	Name       string `json:"name" gorm:"size:255"`
	Value      string `json:"value" gorm:"size:255"`
}

func (Info) TableName() string {
	return "instance_info"
}

// Event is an append-only audit record of an instance state change
type Event struct {
	ID         uint      `gorm:"primaryKey"`
	InstanceID string    `gorm:"index;not null;size:36"`
	EventType  EventType `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index;not null"`
}

func (Event) TableName() string {
	return "event_log"
}

// Heartbeat is an append-only record of the activity reported with one heartbeat.
// It feeds the statistics only, liveness is decided from Instance.LastHeartbeat.
type Heartbeat struct {
	ID            uint      `gorm:"primaryKey"`
	InstanceID    string    `gorm:"index;not null;size:36"`
	NumberPlayers int       `gorm:"not null"`
	NumberMaps    int       `gorm:"not null"`
	CreatedAt     time.Time `gorm:"index;not null"`
}

func (Heartbeat) TableName() string {
	return "heartbeat_log"
}

// Addresses are the ways a client can reach an instance. Deployments report either a
// single address or an ipv4/ipv6 pair.
type Addresses struct {
	Address string `json:"address"`
	IPv4    string `json:"ipv4"`
	IPv6    string `json:"ipv6"`
}

// Summary is the public listing of an instance
type Summary struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Details is the full public view of an active instance
type Details struct {
	Name          string    `json:"name"`
	Address       *string   `json:"address"`
	IPv4          *string   `json:"ipv4"`
	IPv6          *string   `json:"ipv6"`
	Port          int       `json:"port"`
	Version       string    `json:"version"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	WebRTC        bool      `json:"webrtc"`
	Info          []Info    `json:"info"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
