package types

// TaskMessage is carried across the dispatcher boundary for one job.
type TaskMessage struct {
	JobID         int64  `json:"job_id"`
	SourceLocator string `json:"file_path"`
}
