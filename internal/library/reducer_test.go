package library_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventflux/internal/library"
	"eventflux/pkg/engine"
	"eventflux/pkg/eventbus"
	"eventflux/pkg/eventbus/membus"
	"eventflux/pkg/eventstore/memstore"
	"eventflux/pkg/reducer"
	"eventflux/pkg/stream"
)

func newTestEnv() (library.Env, *memstore.Store, *membus.Bus) {
	store := memstore.New()
	bus := membus.New(membus.Config{})
	env := library.Env{
		Store:       store,
		Bus:         bus,
		Clock:       reducer.FixedClock{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		Argon2:      library.DefaultArgon2Params,
		DefaultLoan: 14 * 24 * time.Hour,
		JWT: library.JWTConfig{
			Secret: []byte("test-secret"),
			Issuer: "eventflux-library-test",
			TTL:    time.Hour,
		},
	}
	return env, store, bus
}

func waitForPersist(t *testing.T, ch <-chan engine.Delivery[library.Action]) library.Action {
	t.Helper()
	for {
		select {
		case d := <-ch:
			require.NoError(t, d.Err)
			if d.Action.Kind == library.KindPersistResult {
				return d.Action
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for PersistResult")
		}
	}
}

func TestAddItemPersistsAndPublishes(t *testing.T) {
	env, store, bus := newTestEnv()
	s := engine.New(library.NewState(), library.Reducer, env, engine.Config{})
	defer s.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	busCh, err := bus.Subscribe(ctx, []string{library.TopicCatalog}, "test-subscriber")
	require.NoError(t, err)

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	itemID := uuid.New()
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind: library.KindAddItem,
		AddItem: &library.AddItemCmd{
			ID: itemID, ISBN: "978-0", Title: "Go in Practice", Author: "A.N. Author", TotalCopies: 3,
		},
	}))

	result := waitForPersist(t, ch)
	require.NoError(t, result.PersistResult.Err)

	var item library.Item
	var ok bool
	s.Project(func(st library.State) { item, ok = st.Items[itemID] })
	require.True(t, ok)
	assert.Equal(t, 3, item.Available)
	assert.Equal(t, "active", item.Status)

	events, err := store.LoadEvents(context.Background(), stream.NewAggregateID("item", itemID.String()), nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ItemAdded", events[0].Name())

	select {
	case d := <-busCh:
		require.NoError(t, d.Err)
		assert.Equal(t, "ItemAdded", d.Event.Name())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestCheckOutItemRejectsWhenNoCopiesAvailable(t *testing.T) {
	env, _, _ := newTestEnv()
	s := engine.New(library.NewState(), library.Reducer, env, engine.Config{})
	defer s.Shutdown()

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	itemID := uuid.New()
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind:    library.KindAddItem,
		AddItem: &library.AddItemCmd{ID: itemID, TotalCopies: 1},
	}))
	waitForPersist(t, ch)

	checkoutID := uuid.New()
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind: library.KindCheckOutItem,
		CheckOutItem: &library.CheckOutItemCmd{
			CheckoutID: checkoutID, MemberID: uuid.New(), ItemID: itemID,
		},
	}))
	waitForPersist(t, ch)

	rejectedCheckoutID := uuid.New()
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind: library.KindCheckOutItem,
		CheckOutItem: &library.CheckOutItemCmd{
			CheckoutID: rejectedCheckoutID, MemberID: uuid.New(), ItemID: itemID,
		},
	}))
	time.Sleep(50 * time.Millisecond)

	var checkouts int
	var available int
	s.Project(func(st library.State) {
		checkouts = len(st.Checkouts)
		available = st.Items[itemID].Available
	})
	assert.Equal(t, 1, checkouts, "the second checkout is silently rejected, not recorded")
	assert.Equal(t, 0, available)
}

func TestConcurrentCheckoutsExactlyOneSucceeds(t *testing.T) {
	env, _, _ := newTestEnv()
	s := engine.New(library.NewState(), library.Reducer, env, engine.Config{})
	defer s.Shutdown()

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	itemID := uuid.New()
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind:    library.KindAddItem,
		AddItem: &library.AddItemCmd{ID: itemID, TotalCopies: 1},
	}))
	waitForPersist(t, ch)

	const attempts = 10
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Send(context.Background(), library.Action{
				Kind: library.KindCheckOutItem,
				CheckOutItem: &library.CheckOutItemCmd{
					CheckoutID: uuid.New(), MemberID: uuid.New(), ItemID: itemID,
				},
			})
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	var checkouts int
	s.Project(func(st library.State) { checkouts = len(st.Checkouts) })
	assert.Equal(t, 1, checkouts, "serialized reduction means exactly one of N concurrent checkouts against a single copy succeeds")
}

func TestRegisterThenAuthenticateIssuesToken(t *testing.T) {
	env, _, _ := newTestEnv()
	s := engine.New(library.NewState(), library.Reducer, env, engine.Config{})
	defer s.Shutdown()

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	memberID := uuid.New()
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind: library.KindRegisterMember,
		RegisterMember: &library.RegisterMemberCmd{
			ID: memberID, Email: "reader@example.com", Name: "Reader", Password: "correct horse battery staple",
		},
	}))
	waitForPersist(t, ch)

	resultCh := make(chan library.AuthResult, 1)
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind: library.KindAuthenticate,
		Authenticate: &library.AuthenticateCmd{
			Email: "reader@example.com", Password: "correct horse battery staple", ResultCh: resultCh,
		},
	}))

	select {
	case res := <-resultCh:
		require.NoError(t, res.Err)
		require.NotNil(t, res.Member)
		assert.Equal(t, memberID, res.Member.ID)
		assert.NotEmpty(t, res.Token)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth result")
	}
}

func TestAuthenticateWrongPasswordFails(t *testing.T) {
	env, _, _ := newTestEnv()
	s := engine.New(library.NewState(), library.Reducer, env, engine.Config{})
	defer s.Shutdown()

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind: library.KindRegisterMember,
		RegisterMember: &library.RegisterMemberCmd{
			ID: uuid.New(), Email: "reader@example.com", Name: "Reader", Password: "correct horse battery staple",
		},
	}))
	waitForPersist(t, ch)

	resultCh := make(chan library.AuthResult, 1)
	require.NoError(t, s.Send(context.Background(), library.Action{
		Kind: library.KindAuthenticate,
		Authenticate: &library.AuthenticateCmd{
			Email: "reader@example.com", Password: "wrong password", ResultCh: resultCh,
		},
	}))

	select {
	case res := <-resultCh:
		assert.Error(t, res.Err)
		assert.Nil(t, res.Member)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth result")
	}
}

var _ eventbus.Bus = (*membus.Bus)(nil)
