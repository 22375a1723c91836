package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/marmos91/gracecoord/pkg/objectstore"
)

// maxNodeID mirrors the source's UINT_MAX bound on a node identifier given
// on the command line.
const maxNodeID = math.MaxUint32

// parseNodeIDs validates that every argument is a decimal integer below
// maxNodeID, returning an InvalidArgument StoreError naming the first
// offender otherwise. Node ids are passed through to the coordinator as
// strings; parsing here is validation only, not storage representation.
func parseNodeIDs(args []string) ([]string, error) {
	for _, arg := range args {
		n, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, &objectstore.StoreError{
				Code:    objectstore.ErrInvalidArgument,
				Message: fmt.Sprintf("node id %q is not a decimal integer", arg),
			}
		}
		if n >= maxNodeID {
			return nil, &objectstore.StoreError{
				Code:    objectstore.ErrInvalidArgument,
				Message: fmt.Sprintf("node id %q is not below %d", arg, uint64(maxNodeID)),
			}
		}
	}
	return args, nil
}
