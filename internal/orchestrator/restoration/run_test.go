package restoration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"photorestore/internal/inference"
	"photorestore/internal/logger"
	"photorestore/internal/model"
	"photorestore/internal/pgmq"
	"photorestore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) CreateQueue(ctx context.Context, queue string) error {
	return m.Called(ctx, queue).Error(0)
}

func (m *MockQueue) ReadWithPoll(ctx context.Context, queue string, timeoutSec, maxMessages int) ([]*pgmq.Message, error) {
	args := m.Called(ctx, queue, timeoutSec, maxMessages)
	msgs, _ := args.Get(0).([]*pgmq.Message)
	return msgs, args.Error(1)
}

func (m *MockQueue) Send(ctx context.Context, queue string, payload []byte) error {
	return m.Called(ctx, queue, payload).Error(0)
}

func (m *MockQueue) Delete(ctx context.Context, queue string, msgID int64) error {
	return m.Called(ctx, queue, msgID).Error(0)
}

type MockFinisher struct {
	mock.Mock
}

func (m *MockFinisher) PredictionStatus(ctx context.Context, predictionID string) (*inference.Prediction, error) {
	args := m.Called(ctx, predictionID)
	p, _ := args.Get(0).(*inference.Prediction)
	return p, args.Error(1)
}

func (m *MockFinisher) Complete(ctx context.Context, rec *model.Restoration, out *inference.Output) *model.Restoration {
	args := m.Called(ctx, rec, out)
	r, _ := args.Get(0).(*model.Restoration)
	return r
}

func (m *MockFinisher) Fail(ctx context.Context, rec *model.Restoration, cause error) *model.Restoration {
	args := m.Called(ctx, rec, cause)
	r, _ := args.Get(0).(*model.Restoration)
	return r
}

type MockRecords struct {
	mock.Mock
}

func (m *MockRecords) Get(ctx context.Context, id string) (*model.Restoration, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*model.Restoration)
	return r, args.Error(1)
}

type workerFixture struct {
	queue    *MockQueue
	finisher *MockFinisher
	records  *MockRecords
	sleeps   []time.Duration
	worker   *Worker
}

func newWorkerFixture(maxRetries int) *workerFixture {
	f := &workerFixture{queue: &MockQueue{}, finisher: &MockFinisher{}, records: &MockRecords{}}
	f.worker = NewWorker(f.queue, f.finisher, f.records, Settings{
		Queue:           "restoration_queue",
		DeadLetterQueue: "restoration_queue_dlq",
		PollTimeoutSec:  30,
		PollMaxMsg:      1,
		MaxRetries:      maxRetries,
		BackoffInitial:  time.Second,
		BackoffMax:      4 * time.Second,
	}, logger.Nop())
	f.worker.sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	return f
}

func jobMessage(t *testing.T, id int64) *pgmq.Message {
	t.Helper()
	data, err := json.Marshal(model.RestorationJob{RestorationID: "r1", PredictionID: "p1", UserID: "u1"})
	require.NoError(t, err)
	return &pgmq.Message{ID: id, Data: data}
}

func processing() *model.Restoration {
	return &model.Restoration{ID: "r1", UserID: "u1", Status: model.RestorationProcessing}
}

func TestHandle_CompletesAfterPolling(t *testing.T) {
	f := newWorkerFixture(10)
	rec := processing()
	f.records.On("Get", mock.Anything, "r1").Return(rec, nil)
	f.finisher.On("PredictionStatus", mock.Anything, "p1").Return(&inference.Prediction{ID: "p1", Status: inference.StatusProcessing}, nil).Times(3)
	f.finisher.On("PredictionStatus", mock.Anything, "p1").
		Return(&inference.Prediction{ID: "p1", Status: inference.StatusSucceeded, Output: json.RawMessage(`["https://replicate.delivery/out.png"]`)}, nil).Once()
	f.finisher.On("Complete", mock.Anything, rec, &inference.Output{PredictionID: "p1", URL: "https://replicate.delivery/out.png"}).Return(rec)
	f.queue.On("Delete", mock.Anything, "restoration_queue", int64(5)).Return(nil)

	f.worker.Handle(context.Background(), jobMessage(t, 5))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.sleeps)
	f.finisher.AssertExpectations(t)
	f.queue.AssertExpectations(t)
	f.queue.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_FailedPredictionGoesToDLQ(t *testing.T) {
	f := newWorkerFixture(10)
	rec := processing()
	f.records.On("Get", mock.Anything, "r1").Return(rec, nil)
	f.finisher.On("PredictionStatus", mock.Anything, "p1").
		Return(&inference.Prediction{ID: "p1", Status: inference.StatusFailed, Error: json.RawMessage(`"CUDA out of memory"`)}, nil)
	f.finisher.On("Fail", mock.Anything, rec, mock.MatchedBy(func(err error) bool {
		return err.Error() == "CUDA out of memory"
	})).Return(rec)
	f.queue.On("Send", mock.Anything, "restoration_queue_dlq", mock.Anything).Return(nil)
	f.queue.On("Delete", mock.Anything, "restoration_queue", int64(5)).Return(nil)

	f.worker.Handle(context.Background(), jobMessage(t, 5))

	f.finisher.AssertExpectations(t)
	f.queue.AssertExpectations(t)
	f.finisher.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_ExhaustedRetries(t *testing.T) {
	f := newWorkerFixture(3)
	rec := processing()
	f.records.On("Get", mock.Anything, "r1").Return(rec, nil)
	f.finisher.On("PredictionStatus", mock.Anything, "p1").Return(nil, errors.New("502 bad gateway"))
	f.finisher.On("Fail", mock.Anything, rec, mock.Anything).Return(rec)
	f.queue.On("Send", mock.Anything, "restoration_queue_dlq", mock.Anything).Return(nil)
	f.queue.On("Delete", mock.Anything, "restoration_queue", int64(9)).Return(nil)

	f.worker.Handle(context.Background(), jobMessage(t, 9))

	f.finisher.AssertNumberOfCalls(t, "PredictionStatus", 3)
	assert.Len(t, f.sleeps, 2)
	f.queue.AssertExpectations(t)
}

func TestHandle_AlreadySettled(t *testing.T) {
	f := newWorkerFixture(3)
	f.records.On("Get", mock.Anything, "r1").Return(&model.Restoration{ID: "r1", Status: model.RestorationCompleted}, nil)
	f.queue.On("Delete", mock.Anything, "restoration_queue", int64(1)).Return(nil)

	f.worker.Handle(context.Background(), jobMessage(t, 1))

	f.finisher.AssertNotCalled(t, "PredictionStatus", mock.Anything, mock.Anything)
	f.queue.AssertExpectations(t)
}

func TestHandle_MalformedAndMissing(t *testing.T) {
	f := newWorkerFixture(3)
	f.queue.On("Send", mock.Anything, "restoration_queue_dlq", mock.Anything).Return(nil)
	f.queue.On("Delete", mock.Anything, "restoration_queue", mock.Anything).Return(nil)
	f.records.On("Get", mock.Anything, "r1").Return(nil, repository.ErrRestorationNotFound)

	f.worker.Handle(context.Background(), &pgmq.Message{ID: 2, Data: []byte(`{"oops":true}`)})
	f.worker.Handle(context.Background(), jobMessage(t, 3))

	f.queue.AssertNumberOfCalls(t, "Send", 2)
	f.queue.AssertNumberOfCalls(t, "Delete", 2)
}

func TestHandle_RecordLookupErrorLeavesMessage(t *testing.T) {
	f := newWorkerFixture(3)
	f.records.On("Get", mock.Anything, "r1").Return(nil, errors.New("conn refused"))

	f.worker.Handle(context.Background(), jobMessage(t, 4))

	f.queue.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newWorkerFixture(3)
	ctx, cancel := context.WithCancel(context.Background())
	f.queue.On("CreateQueue", mock.Anything, mock.Anything).Return(nil)
	f.queue.On("ReadWithPoll", mock.Anything, "restoration_queue", 30, 1).
		Run(func(mock.Arguments) { cancel() }).
		Return([]*pgmq.Message{}, nil)

	require.NoError(t, f.worker.Run(ctx))
	f.queue.AssertNumberOfCalls(t, "CreateQueue", 2)
}
