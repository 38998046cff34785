package main

import (
	"os"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/example/canary-deployer/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// The first SIGINT/SIGTERM cancels the rollout and starts a rollback;
	// a second one exits immediately.
	ctx := ctrl.SetupSignalHandler()
	os.Exit(cli.Execute(ctx, cli.Options{Version: version}, os.Args[1:]))
}
