package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUpdateCreatesEntry(t *testing.T) {
	reg := NewRegistry()
	key := Key{Tenant: "acme", Session: "main"}

	_, ok := reg.Get(key)
	require.False(t, ok)

	reg.Update(key, func(e *Entry) { e.Status = StatusConnecting })

	e, ok := reg.Get(key)
	require.True(t, ok)
	assert.Equal(t, key, e.Key)
	assert.Equal(t, StatusConnecting, e.Status)
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	reg := NewRegistry()
	key := Key{Tenant: "acme", Session: "main"}
	reg.Update(key, func(e *Entry) { e.Jid = "a@s.whatsapp.net" })

	e, _ := reg.Get(key)
	e.Jid = "mutated"

	again, _ := reg.Get(key)
	assert.Equal(t, "a@s.whatsapp.net", again.Jid)
}

func TestRegistryFirstSessionIsTenantDefault(t *testing.T) {
	reg := NewRegistry()
	a := Key{Tenant: "acme", Session: "one"}
	b := Key{Tenant: "acme", Session: "two"}
	other := Key{Tenant: "globex", Session: "one"}

	first := reg.Update(a, func(e *Entry) { e.Status = StatusConnecting })
	second := reg.Update(b, func(e *Entry) { e.Status = StatusConnecting })
	assert.True(t, first.IsDefault)
	assert.False(t, second.IsDefault)

	// defaults are scoped per tenant
	assert.True(t, reg.Update(other, func(e *Entry) {}).IsDefault)
}

func TestRegistryRemovePrunesTenantBucket(t *testing.T) {
	reg := NewRegistry()
	a := Key{Tenant: "acme", Session: "one"}
	b := Key{Tenant: "acme", Session: "two"}
	reg.Update(a, func(e *Entry) { e.Status = StatusConnected })
	reg.Update(b, func(e *Entry) { e.Status = StatusConnected })

	reg.Remove(a)
	assert.Len(t, reg.ListTenant("acme"), 1)

	reg.Remove(b)
	assert.Empty(t, reg.ListTenant("acme"))
	assert.Empty(t, reg.Snapshot())
}

func TestRegistryLiveHandle(t *testing.T) {
	reg := NewRegistry()
	key := Key{Tenant: "acme", Session: "main"}
	h := &fakeHandle{alive: true}

	assert.Nil(t, reg.LiveHandle(key))

	reg.Update(key, func(e *Entry) {
		e.Status = StatusReconnecting
		e.Handle = h
	})
	assert.Nil(t, reg.LiveHandle(key), "handle is only served while connected")

	reg.Update(key, func(e *Entry) { e.Status = StatusConnected })
	assert.Equal(t, Handle(h), reg.LiveHandle(key))
}

func TestRegistryTouch(t *testing.T) {
	reg := NewRegistry()
	key := Key{Tenant: "acme", Session: "main"}
	reg.Update(key, func(e *Entry) { e.Status = StatusConnected })

	before, _ := reg.Get(key)
	time.Sleep(5 * time.Millisecond)
	reg.Touch(key)

	after, _ := reg.Get(key)
	assert.True(t, after.LastActivityAt.After(before.LastActivityAt))
}
