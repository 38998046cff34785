package cli

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(canaryv1.AddToScheme(scheme))
}

// NewKubeClient builds a client for the kubeconfig context named in spec.
// An empty kubeconfig path falls back to KUBECONFIG and ~/.kube/config.
func NewKubeClient(spec canaryv1.KubernetesSpec) (client.Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if spec.Kubeconfig != "" {
		rules.ExplicitPath = spec.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: spec.Context}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kubeconfig context %q: %w", spec.Context, err)
	}
	restCfg.UserAgent = "canary-deployer"
	return client.New(restCfg, client.Options{Scheme: scheme})
}
