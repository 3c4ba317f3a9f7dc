package library

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/argon2"

	"eventflux/pkg/effect"
	"eventflux/pkg/event"
	"eventflux/pkg/reducer"
	"eventflux/pkg/stream"
)

// Reducer is the top-level library reducer: one Reduce call per Action,
// mutating State in place and returning the effects that make the
// mutation durable (a Future doing the event-store append + bus publish;
// Authenticate adds a second Future that issues the session token). Reduce itself performs no I/O.
var Reducer reducer.Reducer[State, Action, Env] = reducer.Func[State, Action, Env](reduce)

func reduce(state *State, action Action, env Env) []effect.Effect[Action] {
	switch action.Kind {
	case KindAddItem:
		return reduceAddItem(state, action, env)
	case KindUpdateItemCopies:
		return reduceUpdateItemCopies(state, action, env)
	case KindRemoveItem:
		return reduceRemoveItem(state, action, env)
	case KindCheckOutItem:
		return reduceCheckOutItem(state, action, env)
	case KindReturnItem:
		return reduceReturnItem(state, action, env)
	case KindRegisterMember:
		return reduceRegisterMember(state, action, env)
	case KindAuthenticate:
		return reduceAuthenticate(state, action, env)
	case KindUpdateMemberTier:
		return reduceUpdateMemberTier(state, action, env)
	default:
		return nil
	}
}

func persist(env Env, streamID stream.ID, topic string, ev event.Event, cmd string) effect.Effect[Action] {
	return effect.Future[Action](func(ctx context.Context) (*Action, error) {
		if _, err := env.Store.AppendEvents(ctx, streamID, nil, []event.Event{ev}); err != nil {
			a := Action{Kind: KindPersistResult, CorrelationID: ev.Metadata.CorrelationID, PersistResult: &PersistResult{Command: cmd, Err: err}}
			return &a, nil
		}
		if err := env.Bus.Publish(ctx, topic, ev); err != nil {
			a := Action{Kind: KindPersistResult, CorrelationID: ev.Metadata.CorrelationID, PersistResult: &PersistResult{Command: cmd, Err: err}}
			return &a, nil
		}
		a := Action{Kind: KindPersistResult, CorrelationID: ev.Metadata.CorrelationID, PersistResult: &PersistResult{Command: cmd}}
		return &a, nil
	})
}

func newMeta(correlationID, causationID string, env Env) *event.Metadata {
	return &event.Metadata{
		CorrelationID: correlationID,
		CausationID:   causationID,
		Timestamp:     env.Clock.Now(),
	}
}

// --- Catalog ---

func reduceAddItem(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.AddItem
	if cmd == nil {
		return nil
	}
	item := Item{
		ID:          cmd.ID,
		ISBN:        cmd.ISBN,
		Title:       cmd.Title,
		Author:      cmd.Author,
		TotalCopies: cmd.TotalCopies,
		Available:   cmd.TotalCopies,
		Status:      "active",
		Version:     1,
		CreatedAt:   env.Clock.Now(),
		UpdatedAt:   env.Clock.Now(),
	}
	state.Items[item.ID] = item

	payload, _ := event.JSONCodec{}.Marshal(ItemAddedEvent{
		ID: item.ID, ISBN: item.ISBN, Title: item.Title, Author: item.Author, TotalCopies: item.TotalCopies,
	})
	ev := event.NewEvent(EventItemAdded, 1, payload, newMeta(action.CorrelationID, action.ID, env))
	streamID := stream.NewAggregateID("item", item.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicCatalog, ev, KindAddItem)}
}

func reduceUpdateItemCopies(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.UpdateItemCopies
	if cmd == nil {
		return nil
	}
	item, ok := state.Items[cmd.ID]
	if !ok {
		return nil
	}
	item.TotalCopies = cmd.NewTotal
	item.Available = cmd.NewAvailable
	item.Version++
	item.UpdatedAt = env.Clock.Now()
	state.Items[item.ID] = item

	payload, _ := event.JSONCodec{}.Marshal(ItemCopiesUpdatedEvent{ID: item.ID, NewTotal: item.TotalCopies, NewAvailable: item.Available})
	ev := event.NewEvent(EventItemCopiesUpdated, 1, payload, newMeta(action.CorrelationID, action.ID, env))
	streamID := stream.NewAggregateID("item", item.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicCatalog, ev, KindUpdateItemCopies)}
}

func reduceRemoveItem(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.RemoveItem
	if cmd == nil {
		return nil
	}
	item, ok := state.Items[cmd.ID]
	if !ok {
		return nil
	}
	item.Status = "retired"
	item.Version++
	item.UpdatedAt = env.Clock.Now()
	state.Items[item.ID] = item

	payload, _ := event.JSONCodec{}.Marshal(ItemRemovedEvent{ID: item.ID, Status: item.Status})
	ev := event.NewEvent(EventItemRemoved, 1, payload, newMeta(action.CorrelationID, action.ID, env))
	streamID := stream.NewAggregateID("item", item.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicCatalog, ev, KindRemoveItem)}
}

// --- Circulation ---

func reduceCheckOutItem(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.CheckOutItem
	if cmd == nil {
		return nil
	}
	item, ok := state.Items[cmd.ItemID]
	if !ok || item.Available <= 0 {
		return nil
	}
	loan := cmd.Loan
	if loan <= 0 {
		loan = env.DefaultLoan
	}
	now := env.Clock.Now()
	checkout := Checkout{
		ID:           cmd.CheckoutID,
		MemberID:     cmd.MemberID,
		ItemID:       cmd.ItemID,
		CheckoutDate: now,
		DueDate:      now.Add(loan),
		Status:       "active",
		Version:      1,
	}
	state.Checkouts[checkout.ID] = checkout

	item.Available--
	state.Items[item.ID] = item

	payload, _ := event.JSONCodec{}.Marshal(ItemCheckedOutEvent{
		CheckoutID: checkout.ID, MemberID: checkout.MemberID, ItemID: checkout.ItemID, DueDate: checkout.DueDate,
	})
	ev := event.NewEvent(EventItemCheckedOut, 1, payload, newMeta(action.CorrelationID, action.ID, env))
	streamID := stream.NewAggregateID("checkout", checkout.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicCirculation, ev, KindCheckOutItem)}
}

func reduceReturnItem(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.ReturnItem
	if cmd == nil {
		return nil
	}
	checkout, ok := state.Checkouts[cmd.CheckoutID]
	if !ok || checkout.Status != "active" {
		return nil
	}
	checkout.Status = "returned"
	checkout.ReturnDate = env.Clock.Now()
	checkout.Version++
	state.Checkouts[checkout.ID] = checkout

	if item, ok := state.Items[checkout.ItemID]; ok {
		item.Available++
		state.Items[item.ID] = item
	}

	payload, _ := event.JSONCodec{}.Marshal(ItemReturnedEvent{
		CheckoutID: checkout.ID, MemberID: checkout.MemberID, ItemID: checkout.ItemID, ReturnDate: checkout.ReturnDate,
	})
	ev := event.NewEvent(EventItemReturned, 1, payload, newMeta(action.CorrelationID, action.ID, env))
	streamID := stream.NewAggregateID("checkout", checkout.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicCirculation, ev, KindReturnItem)}
}

// --- Membership ---

func hashPassword(password string, p Argon2Params) (hash, salt string, err error) {
	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", err
	}
	h := argon2.IDKey([]byte(password), saltBytes, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
	return base64.StdEncoding.EncodeToString(h), base64.StdEncoding.EncodeToString(saltBytes), nil
}

func verifyPassword(password, salt, hash string, p Argon2Params) bool {
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), saltBytes, p.Time, p.MemoryKiB, p.Threads, p.KeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1
}

func reduceRegisterMember(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.RegisterMember
	if cmd == nil {
		return nil
	}
	hash, salt, err := hashPassword(cmd.Password, env.Argon2)
	if err != nil {
		return []effect.Effect[Action]{effect.Future[Action](func(ctx context.Context) (*Action, error) {
			a := Action{Kind: KindPersistResult, CorrelationID: action.CorrelationID, PersistResult: &PersistResult{Command: KindRegisterMember, Err: err}}
			return &a, nil
		})}
	}

	now := env.Clock.Now()
	member := Member{
		ID:             cmd.ID,
		Email:          cmd.Email,
		Name:           cmd.Name,
		MembershipTier: "basic",
		Status:         "active",
		MaxCheckouts:   5,
		ExpiresAt:      now.AddDate(1, 0, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	state.Members[member.ID] = member
	state.Credentials[member.ID] = Credential{MemberID: member.ID, PasswordHash: hash, Salt: salt}

	payload, _ := event.JSONCodec{}.Marshal(MemberRegisteredEvent{ID: member.ID, Email: member.Email, Name: member.Name})
	ev := event.NewEvent(EventMemberRegistered, 1, payload, newMeta(action.CorrelationID, action.ID, env))
	streamID := stream.NewAggregateID("member", member.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicMembership, ev, KindRegisterMember)}
}

func reduceAuthenticate(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.Authenticate
	if cmd == nil {
		return nil
	}

	var found *Member
	for _, m := range state.Members {
		if m.Email == cmd.Email {
			mm := m
			found = &mm
			break
		}
	}

	reply := func(res AuthResult) effect.Effect[Action] {
		return effect.Future[Action](func(ctx context.Context) (*Action, error) {
			if cmd.ResultCh != nil {
				select {
				case cmd.ResultCh <- res:
				case <-ctx.Done():
				}
			}
			return nil, nil
		})
	}

	if found == nil {
		return []effect.Effect[Action]{reply(AuthResult{Err: fmt.Errorf("authentication failed: invalid credentials")})}
	}
	cred, ok := state.Credentials[found.ID]
	if !ok || !verifyPassword(cmd.Password, cred.Salt, cred.PasswordHash, env.Argon2) {
		return []effect.Effect[Action]{reply(AuthResult{Err: fmt.Errorf("authentication failed: invalid credentials")})}
	}

	payload, _ := event.JSONCodec{}.Marshal(MemberAuthenticatedEvent{ID: found.ID})
	ev := event.NewEvent(EventMemberAuthenticated, 1, payload, newMeta(action.CorrelationID, action.ID, env))

	issue := effect.Future[Action](func(ctx context.Context) (*Action, error) {
		token, err := issueToken(*found, env.JWT)
		res := AuthResult{Member: found, Token: token, Err: err}
		if cmd.ResultCh != nil {
			select {
			case cmd.ResultCh <- res:
			case <-ctx.Done():
			}
		}
		return nil, nil
	})

	streamID := stream.NewAggregateID("member", found.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicMembership, ev, KindAuthenticate), issue}
}

func issueToken(m Member, cfg JWTConfig) (string, error) {
	now := jwt.TimeFunc()
	claims := jwt.RegisteredClaims{
		Subject:   m.ID.String(),
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

func reduceUpdateMemberTier(state *State, action Action, env Env) []effect.Effect[Action] {
	cmd := action.UpdateMemberTier
	if cmd == nil {
		return nil
	}
	member, ok := state.Members[cmd.ID]
	if !ok {
		return nil
	}
	member.MembershipTier = cmd.NewTier
	member.Version++
	member.UpdatedAt = env.Clock.Now()
	state.Members[member.ID] = member

	payload, _ := event.JSONCodec{}.Marshal(MemberTierChangedEvent{ID: member.ID, NewTier: member.MembershipTier})
	ev := event.NewEvent(EventMemberTierChanged, 1, payload, newMeta(action.CorrelationID, action.ID, env))
	streamID := stream.NewAggregateID("member", member.ID.String())
	return []effect.Effect[Action]{persist(env, streamID, TopicMembership, ev, KindUpdateMemberTier)}
}
