package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/gracecoord/internal/cli/output"
	"github.com/marmos91/gracecoord/pkg/epoch"
	"github.com/marmos91/gracecoord/pkg/objectstore"
)

// coordinatorAPI is the subset of *grace.Coordinator the tool drives. A
// narrow interface so tests can swap in a fake store-backed coordinator
// without standing up a real object store.
type coordinatorAPI interface {
	Create(ctx context.Context, oid string) error
	Dump(ctx context.Context, oid string) (epoch.Header, []objectstore.Member, error)
	Start(ctx context.Context, oid string, nodeIDs []string, force bool) (epoch.Header, error)
	Lift(ctx context.Context, oid string, nodeIDs []string) (epoch.Header, error)
}

// confirmFunc matches internal/cli/prompt.ConfirmWithForce's signature,
// threaded through so tests never touch a real terminal.
type confirmFunc func(label string, force bool) (bool, error)

type options struct {
	object string
	lift   bool
	force  bool
	format output.Format
}

// dumpResult is the JSON/YAML payload for a dump; dumpView renders the same
// data as a table.
type dumpResult struct {
	Object   string               `json:"object" yaml:"object"`
	Current  uint64               `json:"current_epoch" yaml:"current_epoch"`
	Recovery uint64               `json:"recovery_epoch" yaml:"recovery_epoch"`
	InGrace  bool                 `json:"in_grace" yaml:"in_grace"`
	Members  []objectstore.Member `json:"members" yaml:"members"`
}

// run implements the administrative tool's command logic: ensure the grace
// object exists, apply the requested mutation (if any), then unconditionally
// dump. The database schema itself is ensured by main before coord is built,
// so Create here only needs to tolerate AlreadyExists on the object row.
// run never calls os.Exit; main translates the returned error into an exit
// code so the decision logic here is testable without a subprocess.
func run(ctx context.Context, coord coordinatorAPI, opts options, args []string, stdout, stderr io.Writer, confirm confirmFunc) error {
	nodeIDs, err := parseNodeIDs(args)
	if err != nil {
		return err
	}

	if err := coord.Create(ctx, opts.object); err != nil {
		return fmt.Errorf("gracectl: create %s: %w", opts.object, err)
	}

	switch {
	case opts.lift:
		if len(nodeIDs) == 0 {
			return errors.New("gracectl: -l requires at least one node id")
		}
		ok, err := confirm(fmt.Sprintf("lift grace for node(s) %v on %s", nodeIDs, opts.object), opts.force)
		if err != nil {
			return fmt.Errorf("gracectl: %w", err)
		}
		if !ok {
			return errors.New("gracectl: aborted")
		}
		if _, err := coord.Lift(ctx, opts.object, nodeIDs); err != nil {
			return fmt.Errorf("gracectl: lift: %w", err)
		}

	case len(nodeIDs) > 0:
		ok, err := confirm(fmt.Sprintf("start/extend grace for node(s) %v on %s", nodeIDs, opts.object), opts.force)
		if err != nil {
			return fmt.Errorf("gracectl: %w", err)
		}
		if !ok {
			return errors.New("gracectl: aborted")
		}
		if _, err := coord.Start(ctx, opts.object, nodeIDs, true); err != nil {
			return fmt.Errorf("gracectl: start: %w", err)
		}
	}

	header, members, err := coord.Dump(ctx, opts.object)
	if err != nil {
		return fmt.Errorf("gracectl: dump: %w", err)
	}

	return printDump(stdout, opts.object, header, members, opts.format)
}

func printDump(w io.Writer, object string, header epoch.Header, members []objectstore.Member, format output.Format) error {
	if format == output.FormatJSON {
		return output.PrintJSON(w, dumpResult{
			Object: object, Current: header.C, Recovery: header.R,
			InGrace: header.GraceActive(), Members: members,
		})
	}
	if format == output.FormatYAML {
		return output.PrintYAML(w, dumpResult{
			Object: object, Current: header.C, Recovery: header.R,
			InGrace: header.GraceActive(), Members: members,
		})
	}

	if err := output.SimpleTable(w, [][2]string{
		{"object", object},
		{"current", fmt.Sprintf("%d", header.C)},
		{"recovery", fmt.Sprintf("%d", header.R)},
		{"in_grace", fmt.Sprintf("%t", header.GraceActive())},
	}); err != nil {
		return err
	}
	return output.PrintTable(w, dumpView{header: header, members: members})
}
