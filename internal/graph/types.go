package graph

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// BuiltinTypes returns a registry with the node types shipped with the
// tool. Tests and embedders can register their own types instead.
func BuiltinTypes() *TypeRegistry {
	r := NewTypeRegistry()

	r.Register(&TypeDef{
		Name: "Sleep",
		Attrs: []AttrDef{
			{Name: "duration", Kind: KindScalar, Role: RoleInput, Type: cty.String, Default: cty.StringVal("1s")},
			{Name: "done", Kind: KindScalar, Role: RoleOutput, Type: cty.Bool, Default: cty.True},
		},
		Run: runSleep,
	})

	r.Register(&TypeDef{
		Name: "Command",
		Attrs: []AttrDef{
			{Name: "cmd", Kind: KindScalar, Role: RoleInput, Type: cty.String, Default: cty.StringVal("")},
			{Name: "args", Kind: KindList, Role: RoleInput, Type: cty.String},
			{Name: "done", Kind: KindScalar, Role: RoleOutput, Type: cty.Bool, Default: cty.True},
		},
		Run: runCommand,
	})

	r.Register(&TypeDef{
		Name: "Merge",
		Attrs: []AttrDef{
			{Name: "sources", Kind: KindList, Role: RoleInput, Type: cty.Bool},
			{Name: "done", Kind: KindScalar, Role: RoleOutput, Type: cty.Bool, Default: cty.True},
		},
		Run: func(ctx context.Context, rc *RunContext) error { return nil },
	})

	return r
}

func runSleep(ctx context.Context, rc *RunContext) error {
	spec, err := rc.Node.AttrString("duration")
	if err != nil {
		return err
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return fmt.Errorf("node %s: bad duration %q: %w", rc.Node.Name(), spec, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func runCommand(ctx context.Context, rc *RunContext) error {
	cmd, err := rc.Node.AttrString("cmd")
	if err != nil {
		return err
	}
	if cmd == "" {
		return nil
	}
	args, err := rc.Node.AttrStrings("args")
	if err != nil {
		return err
	}

	proc := exec.CommandContext(ctx, cmd, args...)
	if out, err := proc.CombinedOutput(); err != nil {
		return fmt.Errorf("node %s: %q failed: %w: %s", rc.Node.Name(), cmd, err, out)
	}
	return nil
}
