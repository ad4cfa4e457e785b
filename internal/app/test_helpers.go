package app

import (
	"os"
	"testing"

	"github.com/specialistvlad/steloinfra/internal/hcl_adapter"
	"github.com/specialistvlad/steloinfra/internal/registry"
	"github.com/specialistvlad/steloinfra/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Descriptors
// read the environment from vars instead of the process.
func SetupAppTest(t *testing.T, cfg *Config, vars map[string]string, modules ...registry.Module) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	loader := &hcl_adapter.Loader{LookupEnv: testutil.LookupEnv(vars)}
	testApp := NewApp(logBuffer, cfg, loader, modules...)

	t.Cleanup(func() {
		if os.Getenv("STELO_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
