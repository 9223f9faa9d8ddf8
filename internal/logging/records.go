package logging

type BaseEvent struct {
	TSUTC         string `json:"ts_utc"`
	TSUnixMS      int64  `json:"ts_unix_ms"`
	Seq           uint64 `json:"seq"`
	Type          string `json:"type"`
	Target        string `json:"target"`
	RunID         string `json:"run_id,omitempty"`
	SchemaVersion int    `json:"schema_version"`
	ToolName      string `json:"tool_name"`
	ToolVersion   string `json:"tool_version"`
	HostID        string `json:"host_id"`
	ClockSource   string `json:"clock_source"`
}

func (b *BaseEvent) Base() *BaseEvent {
	return b
}

// CheckRun is written once per check invocation.
type CheckRun struct {
	BaseEvent
	ElapsedMs float64 `json:"elapsed_ms"`
	Total     int     `json:"total_cnt"`
	Loss      int     `json:"loss_cnt"`
	Err       string  `json:"err,omitempty"`
}

type Metric struct {
	BaseEvent
	Name  string   `json:"name"`
	Value float64  `json:"value"`
	Tags  []string `json:"tags"`
}

type Histogram struct {
	BaseEvent
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Min   float64  `json:"min"`
	Max   float64  `json:"max"`
	Avg   float64  `json:"avg"`
	P95   float64  `json:"p95"`
	Tags  []string `json:"tags"`
}

// Event mirrors the backend event payload.
type Event struct {
	BaseEvent
	Timestamp      int64    `json:"timestamp"`
	EventType      string   `json:"event_type"`
	MsgTitle       string   `json:"msg_title"`
	MsgText        string   `json:"msg_text"`
	AggregationKey string   `json:"aggregation_key"`
	Tags           []string `json:"tags"`
}

type DNSDiagnostic struct {
	BaseEvent
	Resolver string   `json:"resolver"`
	Addrs    []string `json:"addrs"`
	Err      string   `json:"err,omitempty"`
}

type TracerouteResult struct {
	BaseEvent
	Hops     []TracerouteHop `json:"hops"`
	PathHash string          `json:"path_hash"`
	Err      string          `json:"err,omitempty"`
}

type TracerouteHop struct {
	TTL   int      `json:"ttl"`
	IP    string   `json:"ip"`
	RttMs *float64 `json:"rtt_ms"`
}

type PathChange struct {
	BaseEvent
	PrevPathHash string          `json:"prev_path_hash"`
	NewPathHash  string          `json:"new_path_hash"`
	PrevHops     []TracerouteHop `json:"prev_hops"`
	NewHops      []TracerouteHop `json:"new_hops"`
}
