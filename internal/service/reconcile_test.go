package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReconcileOnce_RepairsDrift(t *testing.T) {
	svc, repo := newMemoryService(t, sequence(3, 4), "alice", "bob")
	ctx := context.Background()

	_, err := svc.Claim(ctx, "alice")
	require.NoError(t, err)
	_, err = svc.Claim(ctx, "bob")
	require.NoError(t, err)

	alice, err := svc.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, repo.SetBalance(alice.ID, 50))

	core, logs := observer.New(zap.InfoLevel)
	r := NewReconciler(repo, zap.New(core), time.Minute, time.Second)

	repaired, err := r.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	alice, err = svc.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), alice.Points)

	entries := logs.FilterMessage("balance repaired").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].ContextMap()["username"])

	repaired, err = r.ReconcileOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
}

func TestReconcilerRun_DisabledReturnsImmediately(t *testing.T) {
	_, repo := newMemoryService(t, sequence(1))
	r := NewReconciler(repo, nil, 0, 0)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("Run did not return with zero interval")
	}
}

func TestReconcilerRun_StopsOnCancel(t *testing.T) {
	_, repo := newMemoryService(t, sequence(1))
	r := NewReconciler(repo, zap.NewNop(), 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after context cancellation")
	}
}
