package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/camden-git/attendancebackend/services"
	"go.uber.org/zap"
)

// Enroller adds one reference photo for a student. *services.RecognitionService
// satisfies it.
type Enroller interface {
	Enroll(ctx context.Context, studentID uint, r io.Reader) (*services.EnrollResult, error)
}

// EnrollImage is one uploaded photo
type EnrollImage struct {
	Name string
	Data []byte
}

// EnrollRequest asks for a set of photos to be enrolled for one student
type EnrollRequest struct {
	StudentID uint
	Images    []EnrollImage
}

// ImageOutcome reports the result of enrolling one photo
type ImageOutcome struct {
	StudentID   uint   `json:"student_id"`
	Image       string `json:"image"`
	SampleID    uint   `json:"sample_id,omitempty"`
	SampleCount int    `json:"sample_count,omitempty"`
	Error       string `json:"error,omitempty"`
	Err         error  `json:"-"`
}

// EnrollJob is the unit handed to a worker: every photo of one student,
// applied in order
type EnrollJob struct {
	Ctx       context.Context
	StudentID uint
	Images    []EnrollImage
	Result    chan []ImageOutcome
}

// EnrollmentProcessor fans batch enrollments out over a fixed worker pool.
// At most one job per student is pending at a time.
type EnrollmentProcessor struct {
	JobQueue chan EnrollJob
	Enroller Enroller
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[uint]bool
	Mutex    sync.Mutex
	logger   *zap.Logger
}

func NewEnrollmentProcessor(enroller Enroller, queueSize, numWorkers int, logger *zap.Logger) *EnrollmentProcessor {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	proc := &EnrollmentProcessor{
		JobQueue: make(chan EnrollJob, queueSize),
		Enroller: enroller,
		StopChan: make(chan struct{}),
		Pending:  make(map[uint]bool),
		logger:   logger.Named("enroll-worker"),
	}
	proc.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go proc.worker(i)
	}
	proc.logger.Info("started enrollment workers", zap.Int("workers", numWorkers), zap.Int("queue_size", queueSize))
	return proc
}

func (ep *EnrollmentProcessor) worker(id int) {
	defer ep.Wg.Done()
	for {
		select {
		case job, ok := <-ep.JobQueue:
			if !ok {
				ep.logger.Debug("enrollment worker stopping, queue closed", zap.Int("worker", id))
				return
			}
			ep.logger.Debug("received enrollment job", zap.Int("worker", id), zap.Uint("student_id", job.StudentID), zap.Int("images", len(job.Images)))
			outcomes := ep.process(job)

			ep.Mutex.Lock()
			delete(ep.Pending, job.StudentID)
			ep.Mutex.Unlock()

			job.Result <- outcomes

		case <-ep.StopChan:
			ep.logger.Debug("enrollment worker stopping, stop signal received", zap.Int("worker", id))
			return
		}
	}
}

func (ep *EnrollmentProcessor) process(job EnrollJob) []ImageOutcome {
	outcomes := make([]ImageOutcome, 0, len(job.Images))
	for _, img := range job.Images {
		out := ImageOutcome{StudentID: job.StudentID, Image: img.Name}
		if err := job.Ctx.Err(); err != nil {
			out.Err = err
		} else if res, err := ep.Enroller.Enroll(job.Ctx, job.StudentID, bytes.NewReader(img.Data)); err != nil {
			out.Err = err
		} else {
			out.SampleID = res.Sample.ID
			out.SampleCount = res.Entry.SampleCount
		}
		if out.Err != nil {
			out.Error = out.Err.Error()
			ep.logger.Warn("enrollment image failed", zap.Uint("student_id", job.StudentID), zap.String("image", img.Name), zap.Error(out.Err))
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// QueueJob queues a job unless one for the same student is already pending
func (ep *EnrollmentProcessor) QueueJob(job EnrollJob) bool {
	ep.Mutex.Lock()
	if ep.Pending[job.StudentID] {
		ep.Mutex.Unlock()
		return false
	}
	ep.Pending[job.StudentID] = true
	ep.Mutex.Unlock()

	select {
	case ep.JobQueue <- job:
		return true
	default:
		ep.logger.Warn("enrollment queue full", zap.Uint("student_id", job.StudentID))
		ep.Mutex.Lock()
		delete(ep.Pending, job.StudentID)
		ep.Mutex.Unlock()
		return false
	}
}

// EnrollBatch runs one job per student and waits for all of them. Photos of
// the same student are merged into one job and applied in request order.
// Outcomes are returned grouped by student ID.
func (ep *EnrollmentProcessor) EnrollBatch(ctx context.Context, requests []EnrollRequest) []ImageOutcome {
	byStudent := make(map[uint][]EnrollImage)
	for _, req := range requests {
		byStudent[req.StudentID] = append(byStudent[req.StudentID], req.Images...)
	}
	ids := make([]uint, 0, len(byStudent))
	for id := range byStudent {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	jobs := make([]EnrollJob, len(ids))
	for i, id := range ids {
		jobs[i] = EnrollJob{Ctx: ctx, StudentID: id, Images: byStudent[id], Result: make(chan []ImageOutcome, 1)}
		if !ep.QueueJob(jobs[i]) {
			err := fmt.Errorf("%w: enrollment for student %d is already running or the queue is full", services.ErrConflict, id)
			jobs[i].Result <- rejected(jobs[i], err)
		}
	}

	var outcomes []ImageOutcome
	for _, job := range jobs {
		select {
		case out := <-job.Result:
			outcomes = append(outcomes, out...)
		case <-ep.StopChan:
			outcomes = append(outcomes, rejected(job, errStopped)...)
		}
	}
	return outcomes
}

var errStopped = errors.New("enrollment workers are shutting down")

func rejected(job EnrollJob, err error) []ImageOutcome {
	outcomes := make([]ImageOutcome, 0, len(job.Images))
	for _, img := range job.Images {
		outcomes = append(outcomes, ImageOutcome{StudentID: job.StudentID, Image: img.Name, Error: err.Error(), Err: err})
	}
	return outcomes
}

func (ep *EnrollmentProcessor) Stop() {
	ep.logger.Info("stopping enrollment workers")
	close(ep.StopChan)
	ep.Wg.Wait()
	ep.logger.Info("all enrollment workers stopped")
}
