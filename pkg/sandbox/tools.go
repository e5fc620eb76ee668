package sandbox

import (
	"context"
	"fmt"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/tool"
)

const (
	ToolNameProjectStructure = "project_structure"
	ToolNameRunShell         = "run_shell"
)

// structureCommand lists the project three levels deep, falling back to find
// on images without tree.
const structureCommand = "tree -L 3 -I 'vendor|node_modules' . 2>/dev/null || find . -maxdepth 3 -not -path './vendor*' -not -path './node_modules*' | sort"

// Tools returns the sandbox tools bound to one project.
func Tools(mgr Manager, projectID string) []tool.Declaration {
	return []tool.Declaration{
		{
			Name:        ToolNameProjectStructure,
			Description: "Get the directory structure of the project, three levels deep.",
			Parameters:  &domain.Schema{Type: domain.TypeObject},
			Execute: func(ctx context.Context, _ tool.Args) (string, error) {
				return run(ctx, mgr, projectID, structureCommand)
			},
		},
		{
			Name:        ToolNameRunShell,
			Description: "Run a single shell command in the project directory and return its output.",
			Parameters: &domain.Schema{
				Type: domain.TypeObject,
				Properties: map[string]*domain.Schema{
					"command": {
						Type:        domain.TypeString,
						Description: "The command to run.",
						MinLength:   1,
					},
				},
				Required: []string{"command"},
			},
			Execute: func(ctx context.Context, args tool.Args) (string, error) {
				return run(ctx, mgr, projectID, args.String("command"))
			},
		},
	}
}

// run reports a non-zero exit in the output rather than as an error so the
// model can react to it.
func run(ctx context.Context, mgr Manager, projectID, command string) (string, error) {
	res, err := mgr.Exec(ctx, projectID, command)
	if err != nil {
		return "", fmt.Errorf("running command: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("%s\n(exit code %d)", res.Output, res.ExitCode), nil
	}
	return res.Output, nil
}
