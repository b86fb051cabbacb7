package model

// LocationMarker is a geolocated observation extracted from a matched packet.
type LocationMarker struct {
	ID    string  `json:"id"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	User  string  `json:"user"`
	Time  string  `json:"time"`
	Topic string  `json:"topic"`
}

// WithID returns the marker with the given id set.
func (m LocationMarker) WithID(id string) LocationMarker {
	m.ID = id
	return m
}

// EntryTime returns the RFC 3339 timestamp the retention window applies to.
func (m LocationMarker) EntryTime() string {
	return m.Time
}

// TextMessage is decrypted free-text content extracted from a matched packet.
type TextMessage struct {
	ID      string `json:"id"`
	User    string `json:"user"`
	Time    string `json:"time"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// WithID returns the message with the given id set.
func (m TextMessage) WithID(id string) TextMessage {
	m.ID = id
	return m
}

// EntryTime returns the RFC 3339 timestamp the retention window applies to.
func (m TextMessage) EntryTime() string {
	return m.Time
}

// DroppedEvent records an inbound transport event the pipeline discarded.
type DroppedEvent struct {
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}
