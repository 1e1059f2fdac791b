package types

import (
	"time"

	"github.com/RezaEskandarii/csvimport/internal/state"
)

// JobView is what the polling boundary exposes for a job.
type JobView struct {
	ID          int64           `json:"id"`
	FileName    string          `json:"original_filename"`
	SourceRef   string          `json:"file_path"`
	Status      state.JobStatus `json:"status"`
	ErrorDetail *string         `json:"error_message"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Rows        []RowView       `json:"csv_data"`
}

type RowView struct {
	ID        int64   `json:"id"`
	Name      *string `json:"name"`
	Role      *string `json:"role"`
	Location  *string `json:"loc"`
	ExtraInfo *string `json:"extra"`
}

func NewJobView(job Job, rows []Row) *JobView {
	view := &JobView{
		ID:          job.ID,
		FileName:    job.FileName,
		SourceRef:   job.SourceRef,
		Status:      job.Status,
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		Rows:        make([]RowView, 0, len(rows)),
	}
	for _, r := range rows {
		view.Rows = append(view.Rows, RowView{
			ID:        r.ID,
			Name:      r.Name,
			Role:      r.Role,
			Location:  r.Location,
			ExtraInfo: r.ExtraInfo,
		})
	}
	return view
}
