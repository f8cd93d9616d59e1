package services

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/testhelpers"
)

const supervisorID = "supervisor"

type testEnv struct {
	db         *gorm.DB
	store      *SignalStore
	machine    *StateMachine
	assigner   *AssignmentManager
	escalator  *Escalator
	dispatcher *notify.Dispatcher
	inbox      *notify.Inbox
	email      *testhelpers.FakeTransport
	sms        *testhelpers.FakeTransport
	push       *testhelpers.FakeTransport
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	r := testhelpers.Roster(
		testhelpers.NewResponderBuilder("responder001"),
		testhelpers.NewResponderBuilder("responder002"),
		testhelpers.NewResponderBuilder("admin_seed"),
		testhelpers.NewResponderBuilder(supervisorID),
	)

	channels := []database.Channel{database.ChannelEmail, database.ChannelSMS, database.ChannelPush}
	d := notify.NewDispatcher(db, r, channels, time.Second, nil, nil)
	env := &testEnv{
		db:         db,
		dispatcher: d,
		inbox:      notify.NewInbox(db),
		email:      testhelpers.NewFakeTransport(database.ChannelEmail),
		sms:        testhelpers.NewFakeTransport(database.ChannelSMS),
		push:       testhelpers.NewFakeTransport(database.ChannelPush),
	}
	d.Register(env.email)
	d.Register(env.sms)
	d.Register(env.push)

	env.store = NewSignalStore(db, nil, nil)
	env.machine = NewStateMachine(env.store, r, d, nil, nil)
	env.assigner = NewAssignmentManager(env.store, r, d, nil, nil)
	env.escalator = NewEscalator(env.store, d, supervisorID, nil, nil)

	// Background deliveries must finish before the database closes
	t.Cleanup(d.Wait)
	return env
}

func (e *testEnv) insert(t *testing.T, b *testhelpers.SignalBuilder) *database.Signal {
	t.Helper()
	return b.Insert(t, e.db)
}

func (e *testEnv) reload(t *testing.T, id string) *database.Signal {
	t.Helper()
	var s database.Signal
	if err := e.db.Where("id = ?", id).First(&s).Error; err != nil {
		t.Fatalf("failed to reload signal %s: %v", id, err)
	}
	return &s
}

func (e *testEnv) notifications(t *testing.T, signalID string) []database.Notification {
	t.Helper()
	e.dispatcher.Wait()
	out, err := e.inbox.ListForSignal(t.Context(), signalID)
	if err != nil {
		t.Fatalf("failed to list notifications: %v", err)
	}
	return out
}

func (e *testEnv) activeAssignments(t *testing.T, signalID string) int64 {
	t.Helper()
	var n int64
	e.db.Model(&database.Assignment{}).Where("signal_id = ? AND active = ?", signalID, true).Count(&n)
	return n
}
