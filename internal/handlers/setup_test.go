package handlers

import (
	"net/http"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
	"github.com/resqnet/resqnet/internal/metrics"
	"github.com/resqnet/resqnet/internal/notify"
	"github.com/resqnet/resqnet/internal/services"
	"github.com/resqnet/resqnet/internal/testhelpers"
)

type server struct {
	db         *gorm.DB
	mux        *http.ServeMux
	dispatcher *notify.Dispatcher
	clusters   *services.ClusterService
	sms        *testhelpers.FakeTransport
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	r := testhelpers.Roster(
		testhelpers.NewResponderBuilder("responder001"),
		testhelpers.NewResponderBuilder("responder002"),
		testhelpers.NewResponderBuilder("admin_seed"),
		testhelpers.NewResponderBuilder("supervisor"),
	)
	m := metrics.New()

	d := notify.NewDispatcher(db, r, []database.Channel{database.ChannelSMS}, time.Second, nil, m)
	sms := testhelpers.NewFakeTransport(database.ChannelSMS)
	d.Register(sms)
	t.Cleanup(d.Wait)

	store := services.NewSignalStore(db, nil, m)
	clusters := services.NewClusterService(store, 5, nil, m)
	h := NewAPIHandler(
		store,
		services.NewStateMachine(store, r, d, nil, m),
		services.NewAssignmentManager(store, r, d, nil, m),
		services.NewEscalator(store, d, "supervisor", nil, m),
		clusters,
		notify.NewInbox(db),
		nil,
	)

	mux := http.NewServeMux()
	h.SetupRoutes(mux)
	NewHTTPHandler(db, m).SetupRoutes(mux)
	return &server{db: db, mux: mux, dispatcher: d, clusters: clusters, sms: sms}
}

func (s *server) do(t *testing.T, method, path string, body interface{}) *testhelpers.HTTPTestContext {
	t.Helper()
	ctx := testhelpers.NewHTTPTestContext(t, method, path, nil)
	if body != nil {
		ctx.WithJSONBody(body)
	}
	return ctx.Execute(s.mux)
}

func (s *server) insert(t *testing.T, b *testhelpers.SignalBuilder) *database.Signal {
	t.Helper()
	return b.Insert(t, s.db)
}
