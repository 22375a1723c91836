package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gracecoord/internal/cli/output"
	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/objectstore"
)

type fakeCoordinator struct {
	header     epoch.Header
	members    []objectstore.Member
	createErr  error
	dumpErr    error
	startErr   error
	liftErr    error
	startCalls [][]string
	liftCalls  [][]string
}

func (f *fakeCoordinator) Create(ctx context.Context, oid string) error { return f.createErr }

func (f *fakeCoordinator) Dump(ctx context.Context, oid string) (epoch.Header, []objectstore.Member, error) {
	return f.header, f.members, f.dumpErr
}

func (f *fakeCoordinator) Start(ctx context.Context, oid string, nodeIDs []string, force bool) (epoch.Header, error) {
	f.startCalls = append(f.startCalls, nodeIDs)
	return f.header, f.startErr
}

func (f *fakeCoordinator) Lift(ctx context.Context, oid string, nodeIDs []string) (epoch.Header, error) {
	f.liftCalls = append(f.liftCalls, nodeIDs)
	return f.header, f.liftErr
}

func alwaysConfirm(label string, force bool) (bool, error) { return true, nil }
func neverConfirm(label string, force bool) (bool, error)  { return false, nil }

func TestRunDefaultDumpsWithoutMutation(t *testing.T) {
	coord := &fakeCoordinator{header: epoch.Header{C: 2, R: 0}}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace", format: output.FormatTable}, nil, &stdout, &stderr, alwaysConfirm)
	require.NoError(t, err)
	assert.Empty(t, coord.startCalls)
	assert.Empty(t, coord.liftCalls)
	assert.Contains(t, stdout.String(), "grace")
}

func TestRunBareNodeIDsStartGrace(t *testing.T) {
	coord := &fakeCoordinator{header: epoch.Header{C: 3, R: 2}}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace", format: output.FormatTable}, []string{"1", "2"}, &stdout, &stderr, alwaysConfirm)
	require.NoError(t, err)
	require.Len(t, coord.startCalls, 1)
	assert.Equal(t, []string{"1", "2"}, coord.startCalls[0])
	assert.Empty(t, coord.liftCalls)
}

func TestRunLiftFlagCallsLift(t *testing.T) {
	coord := &fakeCoordinator{header: epoch.Header{C: 3, R: 0}}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace", lift: true, format: output.FormatTable}, []string{"1"}, &stdout, &stderr, alwaysConfirm)
	require.NoError(t, err)
	require.Len(t, coord.liftCalls, 1)
	assert.Equal(t, []string{"1"}, coord.liftCalls[0])
	assert.Empty(t, coord.startCalls)
}

func TestRunLiftWithoutNodeIDsFails(t *testing.T) {
	coord := &fakeCoordinator{}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace", lift: true}, nil, &stdout, &stderr, alwaysConfirm)
	require.Error(t, err)
	assert.Empty(t, coord.liftCalls)
}

func TestRunRejectsNonNumericNodeID(t *testing.T) {
	coord := &fakeCoordinator{}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace"}, []string{"abc"}, &stdout, &stderr, alwaysConfirm)
	require.Error(t, err)
	assert.Empty(t, coord.startCalls)
}

func TestRunAbortedConfirmationSkipsMutation(t *testing.T) {
	coord := &fakeCoordinator{}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace"}, []string{"1"}, &stdout, &stderr, neverConfirm)
	require.Error(t, err)
	assert.Empty(t, coord.startCalls)
}

func TestRunForceSkipsConfirmPrompt(t *testing.T) {
	coord := &fakeCoordinator{}
	var stdout, stderr bytes.Buffer

	called := false
	confirm := func(label string, force bool) (bool, error) {
		called = true
		assert.True(t, force)
		return true, nil
	}

	err := run(context.Background(), coord, options{object: "grace", force: true}, []string{"1"}, &stdout, &stderr, confirm)
	require.NoError(t, err)
	assert.True(t, called)
	require.Len(t, coord.startCalls, 1)
}

func TestRunCreateFailurePropagates(t *testing.T) {
	coord := &fakeCoordinator{createErr: errors.New("connection refused")}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace"}, nil, &stdout, &stderr, alwaysConfirm)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunJSONFormat(t *testing.T) {
	coord := &fakeCoordinator{
		header:  epoch.Header{C: 5, R: 4},
		members: []objectstore.Member{{NodeID: "1", Enforcing: true}},
	}
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), coord, options{object: "grace", format: output.FormatJSON}, nil, &stdout, &stderr, alwaysConfirm)
	require.NoError(t, err)
	assert.True(t, strings.Contains(stdout.String(), `"current_epoch": 5`) || strings.Contains(stdout.String(), `"current_epoch":5`))
}
