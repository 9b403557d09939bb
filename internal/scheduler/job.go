package scheduler

import (
	"context"
	"time"

	"github.com/wonny/aegis-risk/pkg/ringbuf"
)

// historySize 잡별 실행 이력 보관 개수
const historySize = 100

// Job represents a scheduled job
// ⭐ SSOT: 스케줄 작업 인터페이스는 여기서만 정의
type Job interface {
	// Name returns the job name
	Name() string

	// Run executes the job
	Run(ctx context.Context) error

	// Schedule returns the cron schedule expression
	// Examples: "*/30 * * * * *" (every 30 seconds)
	//           "@every 10s"
	Schedule() string
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// JobHistory stores the latest job executions
type JobHistory struct {
	results *ringbuf.Ring[JobResult]
}

func newJobHistory() *JobHistory {
	return &JobHistory{results: ringbuf.New[JobResult](historySize)}
}

// AddResult adds a job result to history
func (h *JobHistory) AddResult(result JobResult) {
	h.results.Push(result)
}

// Len returns the number of retained results
func (h *JobHistory) Len() int {
	return h.results.Len()
}

// GetLatestResults returns the latest N results, oldest first
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	return h.results.Last(n)
}

// GetFailedResults returns all retained failed results
func (h *JobHistory) GetFailedResults() []JobResult {
	failed := make([]JobResult, 0)
	for _, result := range h.results.Values() {
		if !result.Success {
			failed = append(failed, result)
		}
	}
	return failed
}

// GetSuccessRate returns the success rate (0.0 - 1.0)
func (h *JobHistory) GetSuccessRate() float64 {
	if h.results.Len() == 0 {
		return 0.0
	}

	return float64(h.results.Len()-len(h.GetFailedResults())) / float64(h.results.Len())
}
