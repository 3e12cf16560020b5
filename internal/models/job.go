package models

import "time"

// JobStatus is the lifecycle state of a matching job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Model selects the embedding provider used for a matching job.
type Model string

const (
	ModelCohere Model = "cohere"
	ModelOpenAI Model = "openai"
	ModelGemini Model = "gemini"
)

// Valid reports whether m is a known provider.
func (m Model) Valid() bool {
	switch m {
	case ModelCohere, ModelOpenAI, ModelGemini:
		return true
	}
	return false
}

// MatchingJob is one unit of matching work: one inquiry file against one
// price-list snapshot with one model choice. Snapshots of this struct are
// what Storage persists and the API returns.
type MatchingJob struct {
	ID       string    `json:"id" bson:"_id"`
	BatchID  string    `json:"batch_id,omitempty" bson:"batch_id,omitempty"`
	FileName string    `json:"file_name,omitempty" bson:"file_name,omitempty"`
	Model    Model     `json:"model" bson:"model"`
	Status   JobStatus `json:"status" bson:"status"`
	// Progress is a 0-100 integer, monotonically non-decreasing until the
	// job reaches a terminal state.
	Progress int      `json:"progress" bson:"progress"`
	Logs     []string `json:"logs" bson:"logs"`
	// Results is populated only when Status is completed.
	Results []MatchedItem `json:"results,omitempty" bson:"results,omitempty"`
	// Error is set only when Status is failed.
	Error       string     `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
}

// Duration returns the processing duration, or 0 if the job has not both
// started and finished.
func (j *MatchingJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// BatchJob groups the matching jobs created from one bulk upload.
type BatchJob struct {
	ID          string    `json:"id" bson:"_id"`
	ClientName  string    `json:"client_name" bson:"client_name"`
	ProjectName string    `json:"project_name" bson:"project_name"`
	Model       Model     `json:"model" bson:"model"`
	Status      JobStatus `json:"status" bson:"status"`
	FileCount   int       `json:"file_count" bson:"file_count"`
	JobIDs      []string  `json:"job_ids" bson:"job_ids"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

// ProgressEvent is one entry in a job's ordered progress stream.
type ProgressEvent struct {
	JobID   string `json:"job_id"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	// Done marks the final event emitted for a job.
	Done bool `json:"done,omitempty"`
}
