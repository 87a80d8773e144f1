package ordering

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardflow/apperr"
	"boardflow/models"
	"boardflow/store"
)

// fakeStore keeps tasks in memory. WithinTx holds a mutex for the
// duration of the callback, mirroring the row-range lock that
// serializes concurrent bucket mutations in the real store.
type fakeStore struct {
	store.Store
	mu     sync.Mutex
	nextID uint
	tasks  map[uint]*models.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, tasks: map[uint]*models.Task{}}
}

func (f *fakeStore) WithinTx(_ context.Context, fn func(store.Store) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}

func (f *fakeStore) inBucket(t *models.Task, b store.Bucket) bool {
	if t.ProjectID != b.ProjectID || t.Status != b.Status {
		return false
	}
	if t.ParentTaskID == nil || b.ParentTaskID == nil {
		return t.ParentTaskID == nil && b.ParentTaskID == nil
	}
	return *t.ParentTaskID == *b.ParentTaskID
}

func (f *fakeStore) MaxPosition(_ context.Context, b store.Bucket) (int, error) {
	max := -1
	for _, t := range f.tasks {
		if f.inBucket(t, b) && t.Position > max {
			max = t.Position
		}
	}
	return max, nil
}

func (f *fakeStore) BucketTaskIDs(_ context.Context, b store.Bucket, _ bool) ([]uint, error) {
	var members []*models.Task
	for _, t := range f.tasks {
		if f.inBucket(t, b) {
			members = append(members, t)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Position < members[j].Position })
	ids := make([]uint, len(members))
	for i, t := range members {
		ids[i] = t.ID
	}
	return ids, nil
}

func (f *fakeStore) ApplyReorder(_ context.Context, _ store.Bucket, updates []store.PositionUpdate) error {
	for _, u := range updates {
		t, ok := f.tasks[u.TaskID]
		if !ok {
			return apperr.Conflict("task %d vanished during reorder", u.TaskID)
		}
		t.Position = u.Position
		if u.NewStatus != nil {
			t.Status = *u.NewStatus
		}
	}
	return nil
}

func (f *fakeStore) CreateTask(_ context.Context, task *models.Task) error {
	task.ID = f.nextID
	f.nextID++
	cp := *task
	f.tasks[task.ID] = &cp
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, id uint, _ bool) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) seed(projectID uint, status models.TaskStatus, titles ...string) []uint {
	ids := make([]uint, len(titles))
	for i, title := range titles {
		task := &models.Task{
			ProjectID: projectID,
			Title:     title,
			Status:    status,
			Position:  i,
		}
		task.ID = f.nextID
		f.nextID++
		f.tasks[task.ID] = task
		ids[i] = task.ID
	}
	return ids
}

func (f *fakeStore) positions(b store.Bucket) map[uint]int {
	out := map[uint]int{}
	for _, t := range f.tasks {
		if f.inBucket(t, b) {
			out[t.ID] = t.Position
		}
	}
	return out
}

func todoBucket(projectID uint) store.Bucket {
	return store.Bucket{ProjectID: projectID, Status: models.TaskTodo}
}

func TestCreateTaskOrderedAppendsToEnd(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)

	// Bucket already at max position 4
	f.seed(1, models.TaskTodo, "a", "b", "c", "d", "e")

	task := &models.Task{ProjectID: 1, Title: "f", Status: models.TaskTodo}
	require.NoError(t, e.CreateTaskOrdered(context.Background(), task))
	assert.Equal(t, 5, task.Position)
}

func TestCreateTaskOrderedEmptyBucketStartsAtZero(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)

	task := &models.Task{ProjectID: 1, Title: "first", Status: models.TaskInReview}
	require.NoError(t, e.CreateTaskOrdered(context.Background(), task))
	assert.Equal(t, 0, task.Position)
}

func TestCreateTaskOrderedDoneSetsCompletedAt(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)

	task := &models.Task{ProjectID: 1, Title: "done already", Status: models.TaskDone}
	require.NoError(t, e.CreateTaskOrdered(context.Background(), task))
	assert.NotNil(t, task.CompletedAt)
}

func TestReorderBucketPermutation(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B", "C")
	a, b, c := ids[0], ids[1], ids[2]

	// [A,B,C] at [0,1,2] becomes [C,A,B]
	require.NoError(t, e.ReorderBucket(context.Background(), todoBucket(1), []uint{c, a, b}))

	got := f.positions(todoBucket(1))
	assert.Equal(t, 0, got[c])
	assert.Equal(t, 1, got[a])
	assert.Equal(t, 2, got[b])
}

func TestReorderBucketIdempotent(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B", "C")
	order := []uint{ids[2], ids[0], ids[1]}

	require.NoError(t, e.ReorderBucket(context.Background(), todoBucket(1), order))
	first := f.positions(todoBucket(1))

	require.NoError(t, e.ReorderBucket(context.Background(), todoBucket(1), order))
	assert.Equal(t, first, f.positions(todoBucket(1)))
}

func TestReorderBucketDenseAfterAnyCall(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B", "C", "D")

	require.NoError(t, e.ReorderBucket(context.Background(), todoBucket(1), []uint{ids[3], ids[1], ids[0], ids[2]}))

	positions := f.positions(todoBucket(1))
	seen := map[int]bool{}
	for _, p := range positions {
		assert.False(t, seen[p], "duplicate position %d", p)
		seen[p] = true
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, len(positions))
	}
}

func TestReorderBucketUnknownIDRejectedWholesale(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B")

	before := f.positions(todoBucket(1))
	err := e.ReorderBucket(context.Background(), todoBucket(1), []uint{ids[0], ids[1], 999})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, before, f.positions(todoBucket(1)), "no partial application")
}

func TestReorderBucketWrongProjectRejectedBeforeWrites(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B")
	other := f.seed(2, models.TaskTodo, "X")

	before := f.positions(todoBucket(1))
	err := e.ReorderBucket(context.Background(), todoBucket(1), []uint{ids[0], ids[1], other[0]})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, before, f.positions(todoBucket(1)))
}

func TestReorderBucketMissingCurrentMemberRejected(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B", "C")

	err := e.ReorderBucket(context.Background(), todoBucket(1), []uint{ids[0], ids[1]})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
}

func TestReorderBucketDuplicateIDRejected(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B")

	err := e.ReorderBucket(context.Background(), todoBucket(1), []uint{ids[0], ids[0]})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestReorderBucketCrossColumnMoveChangesStatus(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	todo := f.seed(1, models.TaskTodo, "A", "B")
	doing := f.seed(1, models.TaskInProgress, "X", "Y")

	// Drag X into the todo column between A and B
	require.NoError(t, e.ReorderBucket(context.Background(), todoBucket(1), []uint{todo[0], doing[0], todo[1]}))

	moved := f.tasks[doing[0]]
	assert.Equal(t, models.TaskTodo, moved.Status)
	assert.Equal(t, 1, moved.Position)

	got := f.positions(todoBucket(1))
	assert.Len(t, got, 3)

	// The column X left is compacted in the same unit.
	source := store.Bucket{ProjectID: 1, Status: models.TaskInProgress}
	assert.Equal(t, map[uint]int{doing[1]: 0}, f.positions(source))
}

func TestMoveTaskToEndCompactsSourceColumn(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	todo := f.seed(1, models.TaskTodo, "A", "B", "C")

	task := *f.tasks[todo[1]]
	require.NoError(t, e.MoveTaskToEnd(context.Background(), &task, models.TaskDone))

	moved := f.tasks[todo[1]]
	assert.Equal(t, models.TaskDone, moved.Status)
	assert.Equal(t, 0, moved.Position)

	got := f.positions(todoBucket(1))
	assert.Equal(t, map[uint]int{todo[0]: 0, todo[2]: 1}, got)
}

func TestCompactBucketClosesGaps(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B", "C")
	f.tasks[ids[0]].Position = 0
	f.tasks[ids[1]].Position = 2
	f.tasks[ids[2]].Position = 5

	require.NoError(t, e.CompactBucket(context.Background(), todoBucket(1)))

	got := f.positions(todoBucket(1))
	assert.Equal(t, map[uint]int{ids[0]: 0, ids[1]: 1, ids[2]: 2}, got)
}

func TestConcurrentReordersNeverDuplicatePositions(t *testing.T) {
	f := newFakeStore()
	e := NewEngine(f)
	ids := f.seed(1, models.TaskTodo, "A", "B", "C", "D", "E")

	perms := [][]uint{
		{ids[4], ids[3], ids[2], ids[1], ids[0]},
		{ids[2], ids[0], ids[4], ids[1], ids[3]},
		{ids[1], ids[4], ids[0], ids[3], ids[2]},
		{ids[0], ids[1], ids[2], ids[3], ids[4]},
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		perm := perms[i%len(perms)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.ReorderBucket(context.Background(), todoBucket(1), perm)
		}()
	}
	wg.Wait()

	positions := f.positions(todoBucket(1))
	require.Len(t, positions, 5)
	seen := map[int]bool{}
	for _, p := range positions {
		require.False(t, seen[p], "duplicate position %d after concurrent reorders", p)
		seen[p] = true
		require.GreaterOrEqual(t, p, 0)
		require.Less(t, p, 5)
	}
}
