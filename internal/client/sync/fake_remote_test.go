package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/syncerr"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// fakeRemote удаленное хранилище в памяти с семантикой сервера:
// идемпотентность по ключу, принятие только доминирующих версий, лог изменений.
type fakeRemote struct {
	mu        gosync.Mutex
	records   map[string]*api.Record
	applied   map[string]api.PushResult
	log       []api.Delta
	pushCalls [][]api.PushItem
	pullCalls int

	pushErrs     []error // ошибки следующих вызовов Push (без применения)
	loseResponse bool    // применить следующий Push, но вернуть сетевую ошибку
	blockPush    bool    // Push ждет отмены контекста
	pushEntered  chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:     make(map[string]*api.Record),
		applied:     make(map[string]api.PushResult),
		pushEntered: make(chan struct{}, 16),
	}
}

func (f *fakeRemote) Push(ctx context.Context, items []api.PushItem) (*api.PushResponse, error) {
	f.mu.Lock()
	f.pushCalls = append(f.pushCalls, items)
	block := f.blockPush
	f.mu.Unlock()

	select {
	case f.pushEntered <- struct{}{}:
	default:
	}

	if block {
		<-ctx.Done()
		return nil, syncerr.Network("push", ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		return nil, err
	}

	resp := &api.PushResponse{Results: make([]api.PushResult, 0, len(items))}
	for _, item := range items {
		resp.Results = append(resp.Results, f.applyLocked(item))
	}

	if f.loseResponse {
		f.loseResponse = false
		return nil, syncerr.Network("push", errors.New("connection reset by peer"))
	}
	return resp, nil
}

func (f *fakeRemote) applyLocked(item api.PushItem) api.PushResult {
	if res, ok := f.applied[item.IdempotencyKey]; ok {
		return res
	}

	current := f.records[item.ID]
	var serverVV crdt.VersionVector
	if current != nil {
		serverVV = crdt.VersionVector(current.VersionVector)
	}

	if !crdt.VersionVector(item.VersionVector).Descends(serverVV) {
		rec := cloneAPIRecord(current)
		return api.PushResult{
			ID:                  item.ID,
			IdempotencyKey:      item.IdempotencyKey,
			Status:              api.PushStatusConflict,
			ServerVersionVector: rec.VersionVector,
			Record:              &rec,
		}
	}

	next := cloneAPIRecord(current)
	next.ID = item.ID
	next.Type = item.Type
	for field, value := range item.Delta {
		if value == nil {
			delete(next.Fields, field)
			delete(next.FieldWriteTimes, field)
			continue
		}
		next.Fields[field] = value
	}
	for field, ts := range item.FieldWriteTimes {
		if _, ok := next.Fields[field]; ok {
			next.FieldWriteTimes[field] = ts
		}
	}
	next.VersionVector = serverVV.Merge(item.VersionVector)
	next.UpdatedAt = item.UpdatedAt
	next.WriterDeviceID = item.WriterDeviceID
	next.WriterRole = item.WriterRole

	seq := f.storeLocked(next)
	res := api.PushResult{
		ID:                  item.ID,
		IdempotencyKey:      item.IdempotencyKey,
		Status:              api.PushStatusAccepted,
		ServerVersionVector: next.VersionVector,
		Seq:                 seq,
	}
	f.applied[item.IdempotencyKey] = res
	return res
}

func (f *fakeRemote) storeLocked(rec api.Record) uint64 {
	f.records[rec.ID] = &rec
	seq := uint64(len(f.log) + 1)
	f.log = append(f.log, api.Delta{
		ID:              rec.ID,
		Seq:             seq,
		Record:          cloneAPIRecord(&rec),
		VersionVector:   rec.VersionVector,
		ChangeTimestamp: rec.UpdatedAt,
	})
	return seq
}

func (f *fakeRemote) Pull(ctx context.Context, cursor uint64, limit int) (*api.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls++

	resp := &api.PullResponse{Cursor: cursor}
	for _, d := range f.log {
		if d.Seq <= cursor {
			continue
		}
		if len(resp.Deltas) == limit {
			resp.HasMore = true
			break
		}
		resp.Deltas = append(resp.Deltas, d)
		resp.Cursor = d.Seq
	}
	return resp, nil
}

// edit имитирует правку записи другим устройством
func (f *fakeRemote) edit(id, device, role string, at time.Time, fields map[string]any) api.Delta {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := cloneAPIRecord(f.records[id])
	next.ID = id
	next.Type = "hole_score"
	for field, value := range fields {
		next.Fields[field] = value
		next.FieldWriteTimes[field] = at
	}
	next.VersionVector = crdt.VersionVector(next.VersionVector).Increment(device)
	next.UpdatedAt = at
	next.WriterDeviceID = device
	next.WriterRole = role

	f.storeLocked(next)
	return f.log[len(f.log)-1]
}

func (f *fakeRemote) record(id string) *api.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[id]
	if rec == nil {
		return nil
	}
	out := cloneAPIRecord(rec)
	return &out
}

func (f *fakeRemote) calls() [][]api.PushItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]api.PushItem(nil), f.pushCalls...)
}

func (f *fakeRemote) logLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.log)
}

func (f *fakeRemote) setBlockPush(block bool) {
	f.mu.Lock()
	f.blockPush = block
	f.mu.Unlock()
}

func cloneAPIRecord(rec *api.Record) api.Record {
	out := api.Record{
		Fields:          make(map[string]any),
		FieldWriteTimes: make(map[string]time.Time),
		VersionVector:   make(map[string]uint64),
	}
	if rec == nil {
		return out
	}
	out.ID = rec.ID
	out.Type = rec.Type
	out.UpdatedAt = rec.UpdatedAt
	out.WriterDeviceID = rec.WriterDeviceID
	out.WriterRole = rec.WriterRole
	for k, v := range rec.Fields {
		out.Fields[k] = v
	}
	for k, v := range rec.FieldWriteTimes {
		out.FieldWriteTimes[k] = v
	}
	for k, v := range rec.VersionVector {
		out.VersionVector[k] = v
	}
	return out
}
