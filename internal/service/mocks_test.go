package service

import (
	"bytes"
	"context"
	"io"
	"sync"

	"photorestore/internal/inference"
	"photorestore/internal/model"
	"photorestore/internal/repository"
	"photorestore/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockCreditRepo mocks repository.CreditRepository
type MockCreditRepo struct {
	mock.Mock
}

func (m *MockCreditRepo) Get(ctx context.Context, userID string) (*model.CreditAccount, error) {
	args := m.Called(ctx, userID)
	acct, _ := args.Get(0).(*model.CreditAccount)
	return acct, args.Error(1)
}

func (m *MockCreditRepo) GetOrCreate(ctx context.Context, userID string) (*model.CreditAccount, error) {
	args := m.Called(ctx, userID)
	acct, _ := args.Get(0).(*model.CreditAccount)
	return acct, args.Error(1)
}

func (m *MockCreditRepo) Debit(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	args := m.Called(ctx, userID, amount)
	acct, _ := args.Get(0).(*model.CreditAccount)
	return acct, args.Error(1)
}

func (m *MockCreditRepo) Credit(ctx context.Context, in repository.CreditInput) (*model.CreditAccount, error) {
	args := m.Called(ctx, in)
	acct, _ := args.Get(0).(*model.CreditAccount)
	return acct, args.Error(1)
}

func (m *MockCreditRepo) CreditForEvent(ctx context.Context, eventID, eventType string, in repository.CreditInput) (*model.CreditAccount, bool, error) {
	args := m.Called(ctx, eventID, eventType, in)
	acct, _ := args.Get(0).(*model.CreditAccount)
	return acct, args.Bool(1), args.Error(2)
}

func (m *MockCreditRepo) Refund(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	args := m.Called(ctx, userID, amount)
	acct, _ := args.Get(0).(*model.CreditAccount)
	return acct, args.Error(1)
}

// MockRestorationRepo mocks repository.RestorationRepository
type MockRestorationRepo struct {
	mock.Mock
}

func (m *MockRestorationRepo) Create(ctx context.Context, r *model.Restoration) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRestorationRepo) Update(ctx context.Context, id string, upd repository.RestorationUpdate) (*model.Restoration, error) {
	args := m.Called(ctx, id, upd)
	rec, _ := args.Get(0).(*model.Restoration)
	return rec, args.Error(1)
}

func (m *MockRestorationRepo) Get(ctx context.Context, id string) (*model.Restoration, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*model.Restoration)
	return rec, args.Error(1)
}

func (m *MockRestorationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Restoration, error) {
	args := m.Called(ctx, userID, limit, offset)
	recs, _ := args.Get(0).([]model.Restoration)
	return recs, args.Error(1)
}

// MockRestorer mocks the inference provider
type MockRestorer struct {
	mock.Mock
}

func (m *MockRestorer) Submit(ctx context.Context, imageURL string) (*inference.Output, error) {
	args := m.Called(ctx, imageURL)
	out, _ := args.Get(0).(*inference.Output)
	return out, args.Error(1)
}

func (m *MockRestorer) Start(ctx context.Context, imageURL string) (*inference.Prediction, error) {
	args := m.Called(ctx, imageURL)
	p, _ := args.Get(0).(*inference.Prediction)
	return p, args.Error(1)
}

func (m *MockRestorer) PollStatus(ctx context.Context, predictionID string) (*inference.Prediction, error) {
	args := m.Called(ctx, predictionID)
	p, _ := args.Get(0).(*inference.Prediction)
	return p, args.Error(1)
}

// MockArchiver mocks Archiver
type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) Archive(ctx context.Context, resultURL string) (*Archived, error) {
	args := m.Called(ctx, resultURL)
	a, _ := args.Get(0).(*Archived)
	return a, args.Error(1)
}

// MockQueue mocks JobQueue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Send(ctx context.Context, queue string, payload []byte) error {
	args := m.Called(ctx, queue, payload)
	return args.Error(0)
}

// memStore is an in-memory storage.ObjectStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	opts    map[string]storage.PutOptions
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, opts: map[string]storage.PutOptions{}}
}

func (s *memStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.opts[key] = opts
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) PublicURL(key string) string {
	return "https://bucket.example.com/" + key
}
