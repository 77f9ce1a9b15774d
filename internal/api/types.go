package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a conversion job in a transport-friendly format.
type Job struct {
	ID         string    `json:"id"`
	InputName  string    `json:"inputName"`
	InputSize  int64     `json:"inputSize"`
	Format     string    `json:"format"`
	Stage      string    `json:"stage"`
	StageLabel string    `json:"stageLabel"`
	Percent    int       `json:"percent"`
	Live       bool      `json:"live"`
	OutputName string    `json:"outputName,omitempty"`
	OutputSize int64     `json:"outputSize,omitempty"`
	MIMEType   string    `json:"mimeType,omitempty"`
	Download   *Download `json:"download,omitempty"`
	Error      *JobError `json:"error,omitempty"`
	CreatedAt  string    `json:"createdAt,omitempty"`
	UpdatedAt  string    `json:"updatedAt,omitempty"`
	FinishedAt string    `json:"finishedAt,omitempty"`
	DurationMS int64     `json:"durationMs,omitempty"`
}

// JobError is the user-facing failure payload.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// Download points at a retrievable artifact.
type Download struct {
	Token     string `json:"token"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	MIMEType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a collection of jobs, newest first.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// ProgressEvent is the payload of a "progress" server-sent event.
type ProgressEvent struct {
	JobID   string `json:"jobId"`
	Percent int    `json:"percent"`
	Time    string `json:"time"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// EngineStatus reports loader state.
type EngineStatus struct {
	State    string `json:"state"`
	Ready    bool   `json:"ready"`
	Attempts int    `json:"attempts"`
	Version  string `json:"version,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HostStatus reports host resources relevant to conversions.
type HostStatus struct {
	MemoryTotal     uint64  `json:"memoryTotal"`
	MemoryAvailable uint64  `json:"memoryAvailable"`
	MemoryUsedPct   float64 `json:"memoryUsedPercent"`
	WorkspaceFree   uint64  `json:"workspaceFree"`
}

// HistorySummary counts recorded jobs by outcome.
type HistorySummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	Version       string             `json:"version,omitempty"`
	StartedAt     string             `json:"startedAt,omitempty"`
	HistoryDBPath string             `json:"historyDbPath"`
	LockFilePath  string             `json:"lockFilePath"`
	Engine        EngineStatus       `json:"engine"`
	CurrentJob    *Job               `json:"currentJob,omitempty"`
	History       HistorySummary     `json:"history"`
	Downloads     int                `json:"downloads"`
	Host          HostStatus         `json:"host"`
	Dependencies  []DependencyStatus `json:"dependencies"`
}

// ImageResult mirrors the response headers of the image compression endpoint
// for clients that prefer JSON (?meta=1).
type ImageResult struct {
	Name           string  `json:"name"`
	Format         string  `json:"format"`
	MIMEType       string  `json:"mimeType"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	OriginalSize   int64   `json:"originalSize"`
	CompressedSize int64   `json:"compressedSize"`
	Ratio          float64 `json:"ratio"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error JobError `json:"error"`
}
