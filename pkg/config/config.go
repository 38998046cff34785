// Package config assembles the immutable run configuration from CLI flags,
// environment, an optional plan file, and built-in defaults, in that order
// of precedence.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/telemetry"
)

const (
	KeyPrometheusURL      = "prometheus-url"
	KeyNamespace          = "namespace"
	KeyContext            = "context"
	KeyKubeconfig         = "kubeconfig"
	KeyPlan               = "plan"
	KeyNoAutoRollback     = "no-auto-rollback"
	KeyDryRun             = "dry-run"
	KeyTrafficProvider    = "traffic-provider"
	KeyMetricsBindAddress = "metrics-bind-address"
	KeyTracing            = "tracing"
)

// Environment variables consulted when the matching flag is not given.
// KUBECONFIG is honoured by the kubeconfig loader directly.
var envBindings = map[string]string{
	KeyPrometheusURL: "PROMETHEUS_URL",
	KeyNamespace:     "K8S_NAMESPACE",
	KeyContext:       "K8S_CONTEXT",
}

var (
	scheme = runtime.NewScheme()
	codecs = serializer.NewCodecFactory(scheme, serializer.EnableStrict)
)

func init() {
	utilruntime.Must(canaryv1.AddToScheme(scheme))
}

// Config is built once per invocation and never mutated afterwards.
type Config struct {
	Plan               *canaryv1.CanaryPlan
	PlanFile           string
	DryRun             bool
	MetricsBindAddress string
	Tracing            string
}

// AddFlags registers the flags shared by every command on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(KeyPrometheusURL, canaryv1.DefaultPrometheusURL, "Prometheus base URL. Env: PROMETHEUS_URL")
	fs.String(KeyNamespace, canaryv1.DefaultNamespace, "Namespace of the target service. Env: K8S_NAMESPACE")
	fs.String(KeyContext, canaryv1.DefaultContext, "Kubeconfig context. Env: K8S_CONTEXT")
	fs.String(KeyKubeconfig, "", "Path to the kubeconfig file. Defaults to KUBECONFIG or ~/.kube/config")
	fs.String(KeyPlan, "", "Path to a CanaryPlan YAML file")
	fs.String(KeyTrafficProvider, canaryv1.TrafficProviderSMI, "Traffic split provider: smi or service-annotation")
	fs.String(KeyMetricsBindAddress, "0", "Address to serve rollout metrics on. \"0\" disables it")
	fs.String(KeyTracing, telemetry.TracingNone, "Trace exporter: none, stdout or otlp")
}

// AddRunFlags registers the flags that only apply to a rollout.
func AddRunFlags(fs *pflag.FlagSet) {
	fs.Bool(KeyNoAutoRollback, false, "Leave the canary in place when the rollout fails")
	fs.Bool(KeyDryRun, false, "Print the stage sequence and exit without applying changes")
}

// NewViper returns a viper instance bound to the flags in fs and the
// environment.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load builds the Config for service and version. Either may be empty for
// commands that do not need them. A value is only taken from v when it was
// set explicitly, so plan file values win over flag defaults.
func Load(v *viper.Viper, service, version string) (*Config, error) {
	cfg := &Config{
		PlanFile:           v.GetString(KeyPlan),
		DryRun:             v.GetBool(KeyDryRun),
		MetricsBindAddress: v.GetString(KeyMetricsBindAddress),
		Tracing:            v.GetString(KeyTracing),
	}

	plan := &canaryv1.CanaryPlan{}
	if cfg.PlanFile != "" {
		var err error
		if plan, err = ReadPlan(cfg.PlanFile); err != nil {
			return nil, err
		}
	}

	s := &plan.Spec
	if service != "" {
		s.Service = service
	}
	if version != "" {
		s.Version = version
	}
	override := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	override(KeyPrometheusURL, &s.Prometheus.URL)
	override(KeyNamespace, &s.Kubernetes.Namespace)
	override(KeyContext, &s.Kubernetes.Context)
	override(KeyKubeconfig, &s.Kubernetes.Kubeconfig)
	override(KeyTrafficProvider, &s.Traffic.Provider)
	if v.GetBool(KeyNoAutoRollback) {
		s.Rollback.AutoRollback = ptr.To(false)
	}

	canaryv1.SetDefaults(plan)
	cfg.Plan = plan
	return cfg, nil
}

// ReadPlan reads and strictly decodes a CanaryPlan file.
func ReadPlan(path string) (*canaryv1.CanaryPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	plan, err := DecodePlan(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return plan, nil
}

// DecodePlan decodes a YAML or JSON CanaryPlan. apiVersion and kind are required.
func DecodePlan(data []byte) (*canaryv1.CanaryPlan, error) {
	obj, gvk, err := codecs.UniversalDeserializer().Decode(data, nil, nil)
	if err != nil {
		return nil, err
	}
	plan, ok := obj.(*canaryv1.CanaryPlan)
	if !ok {
		return nil, fmt.Errorf("expected %s CanaryPlan, got %s", canaryv1.GroupVersion, gvk)
	}
	return plan, nil
}

// EncodePlan renders plan as YAML suitable for --plan.
func EncodePlan(plan *canaryv1.CanaryPlan) ([]byte, error) {
	out := plan.DeepCopy()
	out.APIVersion = canaryv1.GroupVersion.String()
	out.Kind = "CanaryPlan"
	return yaml.Marshal(out)
}
