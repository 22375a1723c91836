package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gracecoord/pkg/objectstore"
)

func TestParseNodeIDsAcceptsDecimal(t *testing.T) {
	ids, err := parseNodeIDs([]string{"1", "2", "4294967294"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "4294967294"}, ids)
}

func TestParseNodeIDsRejectsNonNumeric(t *testing.T) {
	_, err := parseNodeIDs([]string{"1", "node-a"})
	require.Error(t, err)
	var se *objectstore.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, objectstore.ErrInvalidArgument, se.Code)
}

func TestParseNodeIDsRejectsOverflow(t *testing.T) {
	_, err := parseNodeIDs([]string{"4294967296"})
	require.Error(t, err)
	var se *objectstore.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, objectstore.ErrInvalidArgument, se.Code)
}

func TestParseNodeIDsRejectsNegative(t *testing.T) {
	_, err := parseNodeIDs([]string{"-1"})
	require.Error(t, err)
}

func TestParseNodeIDsEmpty(t *testing.T) {
	ids, err := parseNodeIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
