package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/yaml"

	"github.com/example/canary-deployer/pkg/config"
	"github.com/example/canary-deployer/pkg/deployer"
	"github.com/example/canary-deployer/pkg/rollout"
	"github.com/example/canary-deployer/pkg/telemetry"
	"github.com/example/canary-deployer/pkg/traffic"
)

func checkService(service string) error {
	if errs := validation.IsDNS1035Label(service); len(errs) > 0 {
		return fmt.Errorf("invalid service name %q: %v", service, errs)
	}
	return nil
}

func newRollbackCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <service>",
		Short: "Route all traffic back to stable and remove the canary",
		Long: `Cleans up after an interrupted or failed rollout: sets the canary weight
to 0, deletes the canary Deployment and Service, then removes the routing
object. Objects of any deployment id are removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkService(args[0]); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, args[0], "")
			if err != nil {
				return err
			}
			spec := &cfg.Plan.Spec
			c, err := o.NewKubeClient(spec.Kubernetes)
			if err != nil {
				return err
			}
			deps, err := newDependencies(c, spec)
			if err != nil {
				return err
			}
			rep := newReporter(o.Out, spec)
			events := telemetry.NewEventEmitter(c, spec.Kubernetes.Namespace, spec.Service)
			report := rollout.New(cfg.Plan, deps, rollout.WithObservers(rep, events)).Rollback(cmd.Context())
			if report.Outcome != rollout.RollbackComplete {
				return fmt.Errorf("rollback %s: %w", report.Outcome, report.Err())
			}
			return nil
		},
	}
}

// serviceStatus is the status document printed by the status command.
type serviceStatus struct {
	Service   string                   `json:"service"`
	Namespace string                   `json:"namespace"`
	Traffic   *traffic.Split           `json:"traffic,omitempty"`
	Canary    *deployer.WorkloadStatus `json:"canary,omitempty"`
}

func newStatusCommand(o *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status <service>",
		Short: "Show the current traffic split and canary readiness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkService(args[0]); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, args[0], "")
			if err != nil {
				return err
			}
			spec := &cfg.Plan.Spec
			c, err := o.NewKubeClient(spec.Kubernetes)
			if err != nil {
				return err
			}
			router, err := traffic.NewRouter(spec.Traffic.Provider, c, spec.Kubernetes.Namespace)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st := serviceStatus{Service: spec.Service, Namespace: spec.Kubernetes.Namespace}
			if st.Traffic, err = router.Current(ctx, spec.Service); err != nil {
				return err
			}
			if st.Canary, err = deployer.New(c, spec.Kubernetes.Namespace, spec.Workload).Status(ctx, spec.Service); err != nil {
				return err
			}

			if output == "yaml" {
				data, err := yaml.Marshal(st)
				if err != nil {
					return err
				}
				_, err = o.Out.Write(data)
				return err
			}
			printStatus(o, st)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: yaml or empty for text")
	return cmd
}

func printStatus(o *Options, st serviceStatus) {
	w := o.Out
	fmt.Fprintf(w, "%s %s/%s\n", headerStyle.Render("Service"), st.Namespace, st.Service)
	if st.Traffic == nil {
		fmt.Fprintln(w, "  traffic  "+dimStyle.Render("no split applied"))
	} else {
		fmt.Fprintf(w, "  traffic  stable=%d%% canary=%d%% %s\n",
			st.Traffic.StablePercent, st.Traffic.CanaryPercent, dimStyle.Render(st.Traffic.DeploymentID))
	}
	if st.Canary == nil {
		fmt.Fprintln(w, "  canary   "+dimStyle.Render("not deployed"))
		return
	}
	ready := okStyle
	if st.Canary.Ready < st.Canary.Desired {
		ready = warnStyle
	}
	fmt.Fprintf(w, "  canary   %s %s %s\n", st.Canary.Version,
		ready.Render(fmt.Sprintf("%d/%d ready", st.Canary.Ready, st.Canary.Desired)),
		dimStyle.Render(st.Canary.DeploymentID))
}

func newPlanCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <service> <version>",
		Short: "Print the effective CanaryPlan as YAML",
		Long: `Prints the plan a rollout would use after applying flags, environment and
defaults. The output can be edited and passed back with --plan.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			data, err := config.EncodePlan(cfg.Plan)
			if err != nil {
				return err
			}
			_, err = o.Out.Write(data)
			return err
		},
	}
}
