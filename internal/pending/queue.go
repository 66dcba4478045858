// Package pending хранит операции, которые не удалось выполнить сразу (подтверждения
// прочтения при обрыве связи с БД), и периодически повторяет их по расписанию cron.
package pending

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/promatch/internal/logger"
	"github.com/robfig/cron/v3"
)

const KindMarkRead = "mark_read"

// Op: отложенная операция. Key дедуплицирует повторные постановки одной и той же операции.
type Op struct {
	Key        string
	Kind       string
	UserID     string
	IDs        []string
	Attempts   int
	LastErr    string
	EnqueuedAt time.Time
}

func MarkReadOp(userID string, messageIDs ...string) Op {
	return Op{
		Key:    KindMarkRead + ":" + userID + ":" + strings.Join(messageIDs, ","),
		Kind:   KindMarkRead,
		UserID: userID,
		IDs:    messageIDs,
	}
}

// Executor выполняет операцию. Ошибка оставляет операцию в очереди до MaxAttempts.
type Executor func(ctx context.Context, op Op) error

var ErrRunning = errors.New("pending queue already running")

type Queue struct {
	exec        Executor
	spec        string
	maxAttempts int
	now         func() time.Time

	mu    sync.Mutex
	ops   map[string]*Op
	order []string

	flushMu sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// NewQueue. spec - расписание cron ("@every 10s"), maxAttempts <= 0 без ограничения.
func NewQueue(exec Executor, spec string, maxAttempts int) *Queue {
	return &Queue{
		exec:        exec,
		spec:        spec,
		maxAttempts: maxAttempts,
		now:         time.Now,
		ops:         make(map[string]*Op),
	}
}

func (q *Queue) Enqueue(op Op) {
	if op.Key == "" {
		op.Key = op.Kind + ":" + op.UserID + ":" + strings.Join(op.IDs, ",")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.ops[op.Key]; ok {
		return
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = q.now()
	}
	q.ops[op.Key] = &op
	q.order = append(q.order, op.Key)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot: копия операций в порядке постановки.
func (q *Queue) Snapshot() []Op {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Op, 0, len(q.order))
	for _, key := range q.order {
		out = append(out, *q.ops[key])
	}
	return out
}

func (q *Queue) remove(key string) {
	delete(q.ops, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// Flush выполняет все операции один раз. Возвращает число выполненных; операции,
// исчерпавшие попытки, выбрасываются с записью в лог.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()
	defer logger.DeferLogDuration("pending.Flush", time.Now())()

	done := 0
	for _, op := range q.Snapshot() {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		err := q.exec(ctx, op)

		q.mu.Lock()
		cur, ok := q.ops[op.Key]
		switch {
		case !ok:
		case err == nil:
			q.remove(op.Key)
			done++
		default:
			cur.Attempts++
			cur.LastErr = err.Error()
			if q.maxAttempts > 0 && cur.Attempts >= q.maxAttempts {
				q.remove(op.Key)
				logger.Errorf("pending: drop %s after %d attempts: %v", op.Key, cur.Attempts, err)
			}
		}
		q.mu.Unlock()
	}
	return done, nil
}

// Start запускает периодический Flush по расписанию.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cron != nil {
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(q.spec, func() {
		n, err := q.Flush(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("pending: flush: %v", err)
		}
		if n > 0 {
			logger.Infof("pending: flushed %d ops", n)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("pending: schedule %q: %w", q.spec, err)
	}
	c.Start()
	q.cron = c
	q.cancel = cancel
	logger.Infof("pending: queue started (%s)", q.spec)
	return nil
}

// Stop останавливает расписание и ждёт текущий Flush.
func (q *Queue) Stop() {
	q.mu.Lock()
	c, cancel := q.cron, q.cancel
	q.cron, q.cancel = nil, nil
	q.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	logger.Info("pending: queue stopped")
}
