package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStandaloneBinaryVersionAndHelpWorkOutsideRepo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("standalone binary copy/exec test is unix-focused")
	}
	goModPath, err := exec.Command("go", "env", "GOMOD").Output()
	require.NoError(t, err, "go env GOMOD")
	repoRoot := filepath.Dir(strings.TrimSpace(string(goModPath)))
	require.NotEqual(t, ".", repoRoot, "go env GOMOD returned empty")

	binaryPath := filepath.Join(t.TempDir(), "quotapace")
	build := exec.Command("go", "build", "-o", binaryPath, "./cmd/quotapace")
	build.Dir = repoRoot
	build.Env = os.Environ()
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build:\n%s", out)

	outside := t.TempDir()
	env := append(os.Environ(),
		"XDG_CONFIG_HOME="+filepath.Join(outside, "config"),
		"QUOTAPACE_DB_DRIVER=file",
		"QUOTAPACE_STATE_PATH="+filepath.Join(outside, "state.json"),
	)

	for _, args := range [][]string{{"version"}, {"--help"}, {"config", "show"}, {"status", "--output-format", "json"}} {
		cmd := exec.Command(binaryPath, args...)
		cmd.Dir = outside
		cmd.Env = env
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "%v failed:\n%s", args, out)
	}
}
