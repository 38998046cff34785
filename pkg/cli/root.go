// Package cli is the canary-deployer command line.
package cli

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/config"
	"github.com/example/canary-deployer/pkg/deployer"
	"github.com/example/canary-deployer/pkg/health"
	"github.com/example/canary-deployer/pkg/metrics"
	"github.com/example/canary-deployer/pkg/rollout"
	"github.com/example/canary-deployer/pkg/telemetry"
	"github.com/example/canary-deployer/pkg/traffic"
)

// Options carries the process-level collaborators of the command tree.
type Options struct {
	Out     io.Writer
	ErrOut  io.Writer
	Version string
	// NewKubeClient builds the Kubernetes client for a plan.
	NewKubeClient func(canaryv1.KubernetesSpec) (client.Client, error)
	// PollInterval overrides the spacing of SLO checks when non-zero.
	PollInterval time.Duration
}

func (o *Options) complete() {
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.ErrOut == nil {
		o.ErrOut = os.Stderr
	}
	if o.NewKubeClient == nil {
		o.NewKubeClient = NewKubeClient
	}
}

// NewRootCommand returns the canary-deployer command with its subcommands.
func NewRootCommand(o Options) *cobra.Command {
	o.complete()
	zapOpts := zap.Options{TimeEncoder: zapcore.ISO8601TimeEncoder}
	zapFlags := goflag.NewFlagSet("zap", goflag.ContinueOnError)
	zapOpts.BindFlags(zapFlags)

	cmd := &cobra.Command{
		Use:   "canary-deployer <service> <version>",
		Short: "Roll a new version out behind an SLO-gated canary",
		Long: `Deploys <version> of <service> as a canary next to the stable pods, shifts
traffic to it stage by stage and checks error rate and p99 latency at every
stage. Consecutive SLO violations roll the canary back.`,
		Args:          cobra.ExactArgs(2),
		Version:       o.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger := zap.New(zap.UseFlagOptions(&zapOpts), zap.WriteTo(o.ErrOut))
			ctrl.SetLogger(logger)
			cmd.SetContext(log.IntoContext(cmd.Context(), logger))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args[0], args[1])
			if err != nil {
				return err
			}
			return runDeploy(cmd.Context(), &o, cfg)
		},
	}
	cmd.SetOut(o.Out)
	cmd.SetErr(o.ErrOut)

	config.AddFlags(cmd.PersistentFlags())
	config.AddRunFlags(cmd.Flags())
	cmd.PersistentFlags().AddGoFlagSet(zapFlags)

	cmd.AddCommand(
		newRollbackCommand(&o),
		newStatusCommand(&o),
		newPlanCommand(&o),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, service, version string) (*config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return config.Load(v, service, version)
}

func runDeploy(ctx context.Context, o *Options, cfg *config.Config) error {
	plan := cfg.Plan
	if err := canaryv1.Validate(plan); err != nil {
		return err
	}
	if cfg.DryRun {
		return printStages(o.Out, plan)
	}
	logger := log.FromContext(ctx)

	shutdown, err := telemetry.InitTracing(ctx, cfg.Tracing, o.Version, o.ErrOut)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error(err, "unable to flush traces")
		}
	}()

	recorder := telemetry.NewRecorder(plan.Spec.Service)
	go func() {
		if err := recorder.Serve(ctx, cfg.MetricsBindAddress); err != nil {
			logger.Error(err, "metrics endpoint stopped")
		}
	}()

	c, err := o.NewKubeClient(plan.Spec.Kubernetes)
	if err != nil {
		return err
	}
	events := telemetry.NewEventEmitter(c, plan.Spec.Kubernetes.Namespace, plan.Spec.Service)
	deps, err := newDependencies(c, &plan.Spec, recorder.CollectionFailed, events.CollectionFailed)
	if err != nil {
		return err
	}
	rep := newReporter(o.Out, &plan.Spec)
	orch := rollout.New(plan, deps, o.rolloutOptions(rep, recorder, events)...)

	res, err := orch.Deploy(ctx)
	rep.Summary(res, err)
	return err
}

func (o *Options) rolloutOptions(obs ...rollout.Observer) []rollout.Option {
	opts := []rollout.Option{rollout.WithObservers(obs...)}
	if o.PollInterval > 0 {
		opts = append(opts, rollout.WithPollInterval(o.PollInterval))
	}
	return opts
}

// newDependencies wires the Kubernetes and Prometheus backed collaborators for spec.
func newDependencies(c client.Client, spec *canaryv1.CanaryPlanSpec, onFailure ...func(metrics.Signal)) (rollout.Dependencies, error) {
	ns := spec.Kubernetes.Namespace

	source, err := metrics.NewSource(spec.Prometheus.URL, spec.Prometheus.Timeout.Duration)
	if err != nil {
		return rollout.Dependencies{}, err
	}
	collector := metrics.NewCollector(source, spec.Prometheus.Queries)
	collector.OnFailure = func(sig metrics.Signal) {
		for _, fn := range onFailure {
			fn(sig)
		}
	}

	router, err := traffic.NewRouter(spec.Traffic.Provider, c, ns)
	if err != nil {
		return rollout.Dependencies{}, err
	}
	return rollout.Dependencies{
		Metrics:  collector,
		Backend:  source,
		Traffic:  router,
		Deployer: deployer.New(c, ns, spec.Workload),
		Health:   health.NewChecker(c, ns),
	}, nil
}

func printStages(w io.Writer, plan *canaryv1.CanaryPlan) error {
	for _, s := range plan.Spec.Stages {
		if _, err := fmt.Fprintf(w, "%s\ttraffic=%d%%\tduration=%s\n", s.Name, s.TrafficPercent, s.Duration.Duration); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, o Options, args []string) int {
	cmd := NewRootCommand(o)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		errOut := o.ErrOut
		if errOut == nil {
			errOut = os.Stderr
		}
		fmt.Fprintln(errOut, "Error:", err)
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(errOut, "interrupted; canary state may need manual inspection")
		}
		return 1
	}
	return 0
}
