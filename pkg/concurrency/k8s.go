package concurrency

import (
	"os"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeForContainers sets GOMAXPROCS to the container CPU quota.
// It should be called at the start of main. The returned function restores
// the previous value.
func InitializeForContainers(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("Failed to set maxprocs", zap.Error(err))
		return func() {}
	}

	logger.Info("Concurrency initialized",
		zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)),
		zap.Bool("kubernetes", IsKubernetes()))

	return undo
}

// IsKubernetes detects if the process runs inside a Kubernetes pod
func IsKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}
