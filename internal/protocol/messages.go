package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ViewerName      string `json:"viewer_name"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ViewerID        string      `json:"viewer_id"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	ChunkSize    int     `json:"chunk_size"`
	ViewDistance float64 `json:"view_distance"`
	VerticalBand int     `json:"vertical_band"`
	TickRateHz   int     `json:"tick_rate_hz"`
}

// VIEW (client -> server): the viewer moved.
type ViewMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

// CHUNK_EVENT (server -> client): a chunk was loaded, unloaded or saved.
type ChunkEventMsg struct {
	Type  string `json:"type"`
	Event string `json:"event"` // "loaded" | "unloaded" | "saved"
	Coord [3]int `json:"coord"`
	OK    *bool  `json:"ok,omitempty"`      // saved only
	Size  int    `json:"size,omitempty"`    // loaded only, payload bytes
}

// STATS (server -> client, on request or interval)
type StatsMsg struct {
	Type          string  `json:"type"`
	Loaded        int     `json:"loaded"`
	Dirty         int     `json:"dirty"`
	PendingLoads  int     `json:"pending_loads"`
	PendingSaves  int     `json:"pending_saves"`
	AvgLoadMs     float64 `json:"avg_load_ms"`
	AvgSaveMs     float64 `json:"avg_save_ms"`
	EventsDropped uint64  `json:"events_dropped"`
}
