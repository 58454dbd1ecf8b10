package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sanonone/pias/internal/server"
	"github.com/sanonone/pias/pkg/cache"
	"github.com/sanonone/pias/pkg/classifier"
	"github.com/sanonone/pias/pkg/graph"
	"github.com/sanonone/pias/pkg/solver"
	"github.com/sanonone/pias/pkg/store"
	"github.com/sanonone/pias/pkg/workflow"
)

// startService runs a workflow on a three-node path graph behind the
// messaging endpoints and returns its base address.
func startService(t *testing.T) (*workflow.Workflow, *server.Messaging, string) {
	t.Helper()
	src := store.NewMemoryStore(&store.Dataset{
		Edges:    []graph.Edge{{U: 0, V: 1}, {U: 1, V: 2}},
		Features: [][]float64{{0.9, 0.1}, {0.1, 0.9}},
	})
	classifiers := cache.NewClassifierCache(func() classifier.Classifier {
		return classifier.NewLogisticRegression(1e-3, 100)
	}, []int{cache.LabelSeparate, cache.LabelMerge})
	wf := workflow.New(cache.NewEdgeFeatureCache(src), cache.NewEdgeLabelCache(nil), classifiers,
		solver.New(nil, solver.Options{}), workflow.Options{PollInterval: 10 * time.Millisecond})
	if err := wf.RequestUpdateEdges(context.Background()); err != nil {
		t.Fatal(err)
	}

	dir, err := os.MkdirTemp("", "pias")
	if err != nil {
		t.Fatal(err)
	}
	base := "unix://" + filepath.Join(dir, "c")
	m, err := server.NewMessaging(wf, base, server.MessagingOptions{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	wf.Start()
	m.Start()
	t.Cleanup(func() {
		m.Close()
		wf.Stop()
		os.RemoveAll(dir)
	})
	return wf, m, base
}

func TestClientEndToEnd(t *testing.T) {
	_, m, base := startService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Dial(base)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := c.CurrentSolution(ctx); !errors.Is(err, ErrNoSolution) {
		t.Fatalf("CurrentSolution before any round: %v", err)
	}

	notes, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for m.Notifier().Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	applied, err := c.SetEdgeLabels(ctx, []Triple{{U: 1, V: 0, Label: 1}, {U: 2, V: 1, Label: 0}, {U: 8, V: 9, Label: 1}})
	if err != nil || applied != 2 {
		t.Fatalf("SetEdgeLabels = %d, %v", applied, err)
	}

	var sErr *ServerError
	if _, err := c.SetEdgeLabels(ctx, []Triple{{U: 0, V: 1, Label: 4}}); !errors.As(err, &sErr) {
		t.Errorf("invalid label error = %v, want ServerError", err)
	}
	var mErr *MethodError
	if _, err := c.setEdgeLabels(ctx, 7, nil); !errors.As(err, &mErr) || mErr.Method != 7 {
		t.Errorf("unknown method error = %v", err)
	}

	id, err := c.RequestUpdate(ctx)
	if err != nil || id != 1 {
		t.Fatalf("RequestUpdate = %d, %v", id, err)
	}

	select {
	case note := <-notes:
		if note.SolutionID != id || note.Outcome != int64(workflow.Success) {
			t.Errorf("notification %+v", note)
		}
	case <-ctx.Done():
		t.Fatal("no notification")
	}

	seg, err := c.CurrentSolution(ctx)
	if err != nil {
		t.Fatalf("CurrentSolution: %v", err)
	}
	if len(seg) != 3 || seg[0] != seg[1] || seg[1] == seg[2] {
		t.Errorf("segmentation %v", seg)
	}

	cancel()
	for range notes {
	}
}

func TestClientRedialsAfterFailure(t *testing.T) {
	_, _, base := startService(t)
	c, err := Dial(base)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	// Break the cached socket behind the client's back.
	c.sockets["ping"].sock.Close()
	if err := c.Ping(ctx); err == nil {
		t.Fatal("ping over a closed socket succeeded")
	}
	if err := c.Ping(ctx); err != nil {
		t.Errorf("ping after redial: %v", err)
	}

	c.Close()
	if err := c.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("ping after Close = %v", err)
	}
}

func TestClientWithoutService(t *testing.T) {
	dir, err := os.MkdirTemp("", "pias")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c, err := Dial("unix://" + filepath.Join(dir, "none"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("ping without a service succeeded")
	}
	if _, err := c.Subscribe(context.Background()); err == nil {
		t.Error("subscribe without a service succeeded")
	}
}

func TestAdminClient(t *testing.T) {
	wf, _, _ := startService(t)
	srv := httptest.NewServer(server.NewServer(wf, wf, "", "secret").Handler())
	defer srv.Close()
	ctx := context.Background()

	var apiErr *APIError
	if _, err := NewAdmin(srv.URL, "").State(ctx, false); !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("unauthenticated State = %v", err)
	}

	admin := NewAdmin(srv.URL, "secret")
	wf.RequestSetEdgeLabels([]graph.Edge{{U: 0, V: 1}, {U: 1, V: 2}}, []int{1, 0})
	id := wf.RequestUpdateState()

	r, err := admin.WaitRound(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitRound: %v", err)
	}
	if r.Outcome != "SUCCESS" {
		t.Errorf("round %+v", r)
	}

	st, err := admin.State(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastSolutionID != id || st.Latest == nil || len(st.Latest.Segmentation) != 3 {
		t.Errorf("state %+v", st)
	}
	if err := admin.Refresh(ctx); err != nil {
		t.Errorf("Refresh: %v", err)
	}
	if _, err := admin.Round(ctx, 999); !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Errorf("unknown round = %v", err)
	}
}
