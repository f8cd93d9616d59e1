package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/utils"
)

const (
	// maxCASAttempts bounds retries when another process wins the version check
	maxCASAttempts = 5
	maxMessageLen  = 4000
	maxNoteLen     = 2000
)

var errVersionConflict = errors.New("version conflict")

// keyedMutex serializes work per key without a global lock
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its release function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// CreateSignalRequest is the ingestion contract
type CreateSignalRequest struct {
	Location      database.Location
	Message       string
	PriorityHint  database.Priority
	EmergencyType string
}

// SignalFilter narrows List
type SignalFilter struct {
	Statuses      []database.SignalStatus
	Priority      database.Priority
	EmergencyType string
}

// SignalStats are canonical counts over all signals
type SignalStats struct {
	Total      int64            `json:"total"`
	Open       int64            `json:"open"`
	Escalated  int64            `json:"escalated"`
	Unassigned int64            `json:"unassigned"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByPriority map[string]int64 `json:"by_priority"`
}

// MutateFunc changes s inside tx. Returning an error rolls everything back.
type MutateFunc func(tx *gorm.DB, s *database.Signal) error

// SignalStore is the durable record of signals. Every mutation goes
// through Mutate, which serializes per signal id in process and guards
// against other processes with a version column.
type SignalStore struct {
	db      *gorm.DB
	locks   *keyedMutex
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSignalStore creates a new signal store
func NewSignalStore(db *gorm.DB, logger *zap.Logger, m *metrics.Metrics) *SignalStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalStore{
		db:      db,
		locks:   newKeyedMutex(),
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (st *SignalStore) SetClock(now func() time.Time) {
	st.now = now
}

// Now returns the store's current time
func (st *SignalStore) Now() time.Time {
	return st.now()
}

// DB returns the underlying connection
func (st *SignalStore) DB() *gorm.DB {
	return st.db
}

// Create records a new pending signal. Unknown priority hints fall back to medium.
func (st *SignalStore) Create(ctx context.Context, req CreateSignalRequest) (*database.Signal, error) {
	loc := req.Location
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return nil, invalidArgument(fmt.Sprintf("location out of range: %v,%v", loc.Lat, loc.Lng))
	}
	loc.Address = utils.CleanText(loc.Address, 512)

	priority := req.PriorityHint
	if !priority.IsValid() {
		priority = database.PriorityMedium
	}

	now := st.now()
	s := &database.Signal{
		ID:            uuid.NewString(),
		Location:      loc,
		Message:       utils.CleanText(req.Message, maxMessageLen),
		Status:        database.SignalStatusPending,
		Priority:      priority,
		EmergencyType: utils.CleanText(req.EmergencyType, 64),
		Cycle:         1,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, fmt.Errorf("failed to create signal: %w", err)
	}

	st.metrics.SignalCreated(string(priority))
	st.logger.Info("signal created",
		zap.String("signal_id", s.ID),
		zap.String("priority", string(priority)),
		zap.String("emergency_type", s.EmergencyType))
	return s, nil
}

// Get returns a signal with its notes
func (st *SignalStore) Get(ctx context.Context, id string) (*database.Signal, error) {
	return st.load(st.db.WithContext(ctx), id)
}

func (st *SignalStore) load(db *gorm.DB, id string) (*database.Signal, error) {
	var s database.Signal
	err := db.Preload("Notes", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("signal", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signal %s: %w", id, err)
	}
	return &s, nil
}

// List returns a page of signals matching f, newest first, and the total count
func (st *SignalStore) List(ctx context.Context, f SignalFilter, offset, limit int) ([]database.Signal, int64, error) {
	q := st.db.WithContext(ctx).Model(&database.Signal{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.EmergencyType != "" {
		q = q.Where("emergency_type = ?", f.EmergencyType)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var signals []database.Signal
	err := q.Order("created_at DESC").Order("id").Offset(offset).Limit(limit).Find(&signals).Error
	return signals, total, err
}

// ListOpen returns every signal that still needs a response
func (st *SignalStore) ListOpen(ctx context.Context) ([]database.Signal, error) {
	var signals []database.Signal
	err := st.db.WithContext(ctx).
		Where("status IN ?", database.OpenSignalStatuses()).
		Order("created_at ASC").
		Find(&signals).Error
	return signals, err
}

// ListByStatus returns every signal currently in one of statuses
func (st *SignalStore) ListByStatus(ctx context.Context, statuses ...database.SignalStatus) ([]database.Signal, error) {
	var signals []database.Signal
	err := st.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("updated_at ASC").
		Find(&signals).Error
	return signals, err
}

// Stats returns counts by status and priority with every key present
func (st *SignalStore) Stats(ctx context.Context) (*SignalStats, error) {
	stats := &SignalStats{
		ByStatus:   make(map[string]int64),
		ByPriority: make(map[string]int64),
	}
	for _, s := range database.AllSignalStatuses() {
		stats.ByStatus[string(s)] = 0
	}
	for _, p := range database.AllPriorities() {
		stats.ByPriority[string(p)] = 0
	}

	type row struct {
		Grp string
		Cnt int64
	}
	db := st.db.WithContext(ctx).Model(&database.Signal{})

	var byStatus []row
	if err := db.Session(&gorm.Session{}).Select("status AS grp, COUNT(*) AS cnt").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, r := range byStatus {
		stats.ByStatus[r.Grp] = r.Cnt
		stats.Total += r.Cnt
		if !database.SignalStatus(r.Grp).IsTerminal() {
			stats.Open += r.Cnt
		}
	}

	var byPriority []row
	if err := db.Session(&gorm.Session{}).Select("priority AS grp, COUNT(*) AS cnt").Group("priority").Scan(&byPriority).Error; err != nil {
		return nil, err
	}
	for _, r := range byPriority {
		stats.ByPriority[r.Grp] = r.Cnt
	}

	open := database.OpenSignalStatuses()
	if err := db.Session(&gorm.Session{}).Where("status IN ? AND escalation_level > 0", open).Count(&stats.Escalated).Error; err != nil {
		return nil, err
	}
	if err := db.Session(&gorm.Session{}).Where("status = ?", database.SignalStatusPending).Where("assigned_responder_id IS NULL").Count(&stats.Unassigned).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// Mutate applies fn to the latest state of signal id as one atomic
// read-modify-write. Mutations of the same id never interleave; different
// ids never block each other. On success the version is bumped, updated_at
// advances and the committed signal is returned. When fn fails nothing is
// written and the unchanged signal is returned alongside the error.
func (st *SignalStore) Mutate(ctx context.Context, id string, fn MutateFunc) (*database.Signal, error) {
	unlock := st.locks.Lock(id)
	defer unlock()

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		var current, result *database.Signal
		err := st.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			s, err := st.load(tx, id)
			if err != nil {
				return err
			}
			snapshot := *s
			current = &snapshot

			prevVersion := s.Version
			if err := fn(tx, s); err != nil {
				return err
			}

			s.Version = prevVersion + 1
			s.UpdatedAt = st.advance(current.UpdatedAt)
			res := tx.Model(&database.Signal{}).
				Where("id = ? AND version = ?", id, prevVersion).
				Updates(map[string]interface{}{
					"status":                s.Status,
					"priority":              s.Priority,
					"escalation_level":      s.EscalationLevel,
					"assigned_responder_id": s.AssignedResponderID,
					"cycle":                 s.Cycle,
					"version":               s.Version,
					"updated_at":            s.UpdatedAt,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to write signal %s: %w", id, res.Error)
			}
			if res.RowsAffected == 0 {
				return errVersionConflict
			}

			result, err = st.load(tx, id)
			return err
		})
		if errors.Is(err, errVersionConflict) {
			st.logger.Debug("signal version conflict, retrying",
				zap.String("signal_id", id), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return current, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w: signal %s", ErrConflict, id)
}

// advance returns now, nudged forward if the clock has not moved past prev
func (st *SignalStore) advance(prev time.Time) time.Time {
	now := st.now()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

// appendNote adds an audit entry to s inside tx
func appendNote(tx *gorm.DB, s *database.Signal, kind database.NoteKind, actorID string, from, to database.SignalStatus, text string, at time.Time) error {
	note := database.SignalNote{
		SignalID:   s.ID,
		ActorID:    actorID,
		Kind:       kind,
		FromStatus: from,
		ToStatus:   to,
		Text:       utils.CleanText(text, maxNoteLen),
		CreatedAt:  at,
	}
	if err := tx.Create(&note).Error; err != nil {
		return fmt.Errorf("failed to append note: %w", err)
	}
	return nil
}

// revokeActiveAssignment closes the open assignment of a signal, if any
func revokeActiveAssignment(tx *gorm.DB, signalID, revokedBy string, at time.Time) error {
	return tx.Model(&database.Assignment{}).
		Where("signal_id = ? AND active = ?", signalID, true).
		Updates(map[string]interface{}{
			"active":     false,
			"revoked_at": at,
			"revoked_by": revokedBy,
		}).Error
}
