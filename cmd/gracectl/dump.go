package main

import (
	"sort"
	"strconv"

	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/objectstore"
)

// dumpView renders a header+member snapshot as a table, matching the
// source's grace_dump text layout (epoch line, then one row per member).
type dumpView struct {
	header  epoch.Header
	members []objectstore.Member
}

func (d dumpView) Headers() []string {
	return []string{"NODE", "ENFORCING"}
}

func (d dumpView) Rows() [][]string {
	members := append([]objectstore.Member(nil), d.members...)
	sort.Slice(members, func(i, j int) bool { return members[i].NodeID < members[j].NodeID })

	rows := make([][]string, 0, len(members))
	for _, m := range members {
		rows = append(rows, []string{m.NodeID, strconv.FormatBool(m.Enforcing)})
	}
	return rows
}
