package build

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 任务状态
const (
	TaskStatusQueued    = "QUEUED"
	TaskStatusRunning   = "RUNNING"
	TaskStatusSucceeded = "SUCCEEDED"
	TaskStatusFailed    = "FAILED"
)

var (
	ErrQueueFull    = errors.New("构建队列已满")
	ErrTaskNotFound = errors.New("构建任务不存在")
	ErrQueueClosed  = errors.New("构建队列已关闭")
)

// Request 一次打包请求
type Request struct {
	UserID   int64  `json:"user_id"`
	URL      string `json:"url"`
	AppName  string `json:"app_name"`
	Platform string `json:"platform"` // android / ios
}

// Task 队列中的打包任务
type Task struct {
	ID          string     `json:"id"`
	Request     Request    `json:"request"`
	Status      string     `json:"status"`
	ArtifactURL string     `json:"artifact_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// BuildFunc 执行实际打包，返回产物地址
type BuildFunc func(ctx context.Context, req Request) (string, error)

// Queue 有界打包队列
//
// 固定 worker 数消费，队列满时直接拒绝而不是阻塞提交方。
// 任务状态保留在内存中供查询，进程重启后丢失，
// 付费额度在提交前已经扣过，所以丢任务不会丢钱。
type Queue struct {
	tasks   chan *Task
	workers int
	build   BuildFunc

	mu     sync.RWMutex
	status map[string]*Task

	stopCh  chan struct{}
	wg      sync.WaitGroup
	closed  bool
	closeMu sync.Mutex
}

// NewQueue 创建打包队列
func NewQueue(workers, capacity int, build BuildFunc) *Queue {
	return &Queue{
		tasks:   make(chan *Task, capacity),
		workers: workers,
		build:   build,
		status:  make(map[string]*Task),
		stopCh:  make(chan struct{}),
	}
}

// Start 启动 worker
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	log.Printf("[BuildQueue] 启动，workers=%d capacity=%d", q.workers, cap(q.tasks))
}

// Stop 停止接收新任务并等待在跑的任务结束
func (q *Queue) Stop() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	close(q.stopCh)
	q.closeMu.Unlock()

	q.wg.Wait()
	log.Println("[BuildQueue] 已停止")
}

// Submit 提交任务，返回任务 ID
func (q *Queue) Submit(req Request) (*Task, error) {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return nil, ErrQueueClosed
	}
	q.closeMu.Unlock()

	task := &Task{
		ID:         uuid.NewString(),
		Request:    req,
		Status:     TaskStatusQueued,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.status[task.ID] = task
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return q.snapshot(task.ID), nil
	default:
		q.mu.Lock()
		delete(q.status, task.ID)
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// Get 查询任务状态
func (q *Queue) Get(taskID string) (*Task, error) {
	task := q.snapshot(taskID)
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// snapshot 返回任务的拷贝，避免调用方拿到在并发更新的结构
func (q *Queue) snapshot(taskID string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	task, ok := q.status[taskID]
	if !ok {
		return nil
	}
	copied := *task
	return &copied
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case task := <-q.tasks:
			q.run(id, task)
		}
	}
}

func (q *Queue) run(workerID int, task *Task) {
	now := time.Now()
	q.mu.Lock()
	task.Status = TaskStatusRunning
	task.StartedAt = &now
	q.mu.Unlock()

	artifactURL, err := q.build(context.Background(), task.Request)

	finished := time.Now()
	q.mu.Lock()
	task.FinishedAt = &finished
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = err.Error()
		q.mu.Unlock()
		log.Printf("[BuildQueue] worker=%d 任务失败: id=%s err=%v", workerID, task.ID, err)
		return
	}
	task.Status = TaskStatusSucceeded
	task.ArtifactURL = artifactURL
	q.mu.Unlock()
	log.Printf("[BuildQueue] worker=%d 任务完成: id=%s", workerID, task.ID)
}
