package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/componentkit/enclave/errors"
)

// BridgePathEnv extends the bridge search path with extra directories,
// separated by the platform's path list separator.
const BridgePathEnv = "ENCLAVE_BRIDGE_PATH"

// defaultSearchPaths are scanned in order before the environment path.
var defaultSearchPaths = []string{
	"/usr/local/lib/enclave/bridges",
	"/usr/lib/enclave/bridges",
	"./bridges",
}

// requiredExports must all be present in a discovered guest binary for
// it to qualify as a bridge provider.
var requiredExports = []string{"initialize", "execute", "cleanup"}

// PathDiscoverer finds bridge guest binaries on disk. A candidate for
// language L is a file named enclave_bridge_<L>.wasm in one of the
// search directories; the first candidate whose exports validate wins.
type PathDiscoverer struct {
	paths  []string
	logger *zap.Logger
}

// NewPathDiscoverer builds a discoverer over the default search paths
// plus any directories named in ENCLAVE_BRIDGE_PATH. Extra paths take
// precedence over the defaults.
func NewPathDiscoverer(logger *zap.Logger) *PathDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	var paths []string
	if env := os.Getenv(BridgePathEnv); env != "" {
		paths = append(paths, filepath.SplitList(env)...)
	}
	paths = append(paths, defaultSearchPaths...)
	return &PathDiscoverer{paths: paths, logger: logger}
}

// NewPathDiscovererWithPaths builds a discoverer over explicit
// directories only. Used by tests and embedders with fixed layouts.
func NewPathDiscovererWithPaths(paths []string, logger *zap.Logger) *PathDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PathDiscoverer{paths: paths, logger: logger}
}

// Discover scans the search paths for a guest binary serving the
// language, validates its export surface and wraps it in a WasmBridge.
func (d *PathDiscoverer) Discover(ctx context.Context, lang Language) (Bridge, error) {
	if lang == LanguageNative {
		return nil, errors.InvalidParameter(errors.PhaseBridge,
			"the native bridge is built in and never discovered")
	}

	filename := fmt.Sprintf("enclave_bridge_%s.wasm", lang)
	for _, dir := range d.paths {
		candidate := filepath.Join(dir, filename)
		guest, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}

		if err := validateExports(ctx, guest); err != nil {
			d.logger.Warn("bridge candidate rejected",
				zap.String("path", candidate),
				zap.Error(err),
			)
			continue
		}

		d.logger.Info("bridge loaded",
			zap.String("language", string(lang)),
			zap.String("path", candidate),
		)
		return newWasmBridge(ctx, guest, d.logger)
	}

	return nil, errors.BridgeUnavailable(string(lang))
}

// validateExports compiles the candidate once to confirm the required
// entry points exist before the binary is accepted.
func validateExports(ctx context.Context, guest []byte) error {
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, guest)
	if err != nil {
		return errors.Wrap(errors.PhaseBridge, errors.KindBridgeUnavailable, err,
			"candidate does not compile")
	}
	defer compiled.Close(ctx)

	exports := compiled.ExportedFunctions()
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			return errors.New(errors.PhaseBridge, errors.KindBridgeUnavailable).
				Detail("candidate missing required export %q", name).
				Build()
		}
	}
	return nil
}
