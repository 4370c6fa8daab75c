package scan

// Command is a client->server control frame on the scanner socket.
type Command struct {
	Action  string          `json:"action"`
	Payload *CommandPayload `json:"payload,omitempty"`
}

// CommandPayload carries optional start-scan parameters.
type CommandPayload struct {
	Directories []string `json:"directories,omitempty"`
	MaxDepth    int      `json:"maxDepth,omitempty"`
}

const (
	actionStartScan = "start-scan"
	actionStopScan  = "stop-scan"
)

// Server->client event frames. Every frame carries a "type" tag; the
// remaining fields depend on it.

type connectedEvent struct {
	Type string `json:"type"`
}

type statusEvent struct {
	Type            string `json:"type"`
	IsScanning      bool   `json:"isScanning"`
	TotalDiscovered int    `json:"totalDiscovered"`
}

type startedEvent struct {
	Type string `json:"type"`
}

type discoveredEvent struct {
	Type            string `json:"type"`
	ProjectPath     string `json:"projectPath"`
	ProjectData     any    `json:"projectData"`
	TotalDiscovered int    `json:"totalDiscovered"`
}

type updatedEvent struct {
	Type        string `json:"type"`
	ProjectPath string `json:"projectPath"`
	ProjectData any    `json:"projectData"`
}

type completedEvent struct {
	Type            string `json:"type"`
	TotalDiscovered int    `json:"totalDiscovered"`
}

type errorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

const (
	eventConnected   = "connected"
	eventScanStatus  = "scan-status"
	eventScanStarted = "scan-started"
	eventDiscovered  = "project-discovered"
	eventUpdated     = "project-updated"
	eventCompleted   = "scan-completed"
	eventScanError   = "scan-error"
)
