package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/valksor/go-cproj/internal/display"
	"github.com/valksor/go-cproj/internal/environment"
	"github.com/valksor/go-cproj/internal/lifecycle"
)

var setupJSON bool

var setupCmd = &cobra.Command{
	Use:     "setup [path]",
	Short:   "Re-run setup for an existing workspace",
	GroupID: "workspace",
	Long: `Re-run the setup steps of a workspace: env file copy, dependency
installation, port allocation and custom actions.

Steps that were already completed are no-ops. Failed steps recorded in the
workspace metadata are cleared when they now succeed.

Examples:
  cproj setup                  # Workspace in the current directory
  cproj setup /tmp/cproj-workspaces/app_feature-x_20260301_090000`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().BoolVar(&setupJSON, "json", false, "Output as JSON")
}

func runSetup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := workspaceArg(args)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, hostingOff)
	if err != nil {
		return err
	}
	defer s.Close()

	report, err := s.engine.Setup(ctx, path)
	if report == nil {
		return err
	}

	if setupJSON {
		if jerr := printJSON(cmd, newSetupView(report)); jerr != nil {
			return jerr
		}

		return err
	}

	printSetup(cmd, report)
	if err == nil {
		infof(cmd, "%s\n", display.SuccessMsg("Setup complete"))
	}

	return err
}

// printSetup summarizes a setup report.
func printSetup(cmd *cobra.Command, r *lifecycle.SetupReport) {
	if len(r.EnvFiles) > 0 {
		infof(cmd, "  %s\n", display.Muted(fmt.Sprintf("Copied %d env file(s)", len(r.EnvFiles))))
	}

	if r.Environment != nil {
		for _, res := range r.Environment.Results {
			line := fmt.Sprintf("%s: %s", res.Kind, res.Outcome)
			if res.Tool != "" {
				line += " (" + res.Tool + ")"
			}
			if res.Outcome == environment.OutcomeFailed {
				infof(cmd, "  %s\n", display.ErrorMsg("%s", line))
			} else {
				infof(cmd, "  %s\n", line)
			}
			for _, w := range res.Warnings {
				infof(cmd, "    %s\n", display.Muted(w))
			}
		}
	}

	for _, a := range r.Actions {
		switch {
		case a.Skipped:
			infof(cmd, "  %s\n", display.Muted("action "+a.Name+": skipped"))
		case a.Err != nil:
			infof(cmd, "  %s\n", display.ErrorMsg("action %s: %v", a.Name, a.Err))
		default:
			infof(cmd, "  action %s: ok\n", a.Name)
		}
	}

	steps := make([]string, 0, len(r.Failed))
	for step := range r.Failed {
		steps = append(steps, step)
	}
	sort.Strings(steps)
	for _, step := range steps {
		infof(cmd, "%s\n", display.WarningMsg("%s failed: %v", step, r.Failed[step]))
	}
}

type createView struct {
	Path     string     `json:"path"`
	Branch   string     `json:"branch"`
	Base     string     `json:"base"`
	Attached bool       `json:"attached"`
	BaseSync string     `json:"base_sync"`
	Ticket   string     `json:"ticket,omitempty"`
	Setup    *setupView `json:"setup,omitempty"`
}

type setupView struct {
	Path        string            `json:"path"`
	EnvFiles    []string          `json:"env_files,omitempty"`
	Environment []envView         `json:"environment,omitempty"`
	PortOffset  *int              `json:"port_offset,omitempty"`
	Actions     []actionView      `json:"actions,omitempty"`
	Failed      map[string]string `json:"failed,omitempty"`
	Partial     bool              `json:"partial"`
}

type envView struct {
	Kind     string   `json:"kind"`
	Outcome  string   `json:"outcome"`
	Tool     string   `json:"tool,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type actionView struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newCreateView(res *lifecycle.CreateResult) createView {
	v := createView{
		Path:     res.Path,
		Branch:   res.Branch,
		Base:     res.Base,
		Attached: res.Attached,
		BaseSync: string(res.BaseSync),
	}
	if res.Record != nil {
		v.Ticket = res.Record.Links.Ticket
	}
	if res.Setup != nil {
		sv := newSetupView(res.Setup)
		v.Setup = &sv
	}

	return v
}

func newSetupView(r *lifecycle.SetupReport) setupView {
	v := setupView{Path: r.Path, EnvFiles: r.EnvFiles, Partial: len(r.Failed) > 0}
	if r.PortEnabled {
		off := r.PortOffset
		v.PortOffset = &off
	}
	if r.Environment != nil {
		for _, res := range r.Environment.Results {
			v.Environment = append(v.Environment, envView{
				Kind:     res.Kind,
				Outcome:  string(res.Outcome),
				Tool:     res.Tool,
				Warnings: res.Warnings,
				Error:    errString(res.Err),
			})
		}
	}
	for _, a := range r.Actions {
		v.Actions = append(v.Actions, actionView{Name: a.Name, Type: a.Type, Skipped: a.Skipped, Error: errString(a.Err)})
	}
	if len(r.Failed) > 0 {
		v.Failed = make(map[string]string, len(r.Failed))
		for step, err := range r.Failed {
			v.Failed[step] = err.Error()
		}
	}

	return v
}
