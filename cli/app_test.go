package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	err := NewApp(out, errOut).Run(append([]string{"latctl"}, args...))
	return out.String(), errOut.String(), err
}

func TestDefaultsAction(t *testing.T) {
	out, _, err := runApp(t, "defaults")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "lat_torque_v4.json")
	test.That(t, out, test.ShouldContainSubstring, "maxLatAccel")
	test.That(t, out, test.ShouldContainSubstring, "sccCurvatureFactor")
	test.That(t, out, test.ShouldContainSubstring, "0.98")
}

func TestCheckAction(t *testing.T) {
	dir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dir, "lat_lqr.json"), []byte("{broken"), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, "scc.json"),
		[]byte(`{"sccGasFactor": 1.0, "sccBrakeFactor": 1.0, "sccCurvatureFactor": 0.98}`), 0o600), test.ShouldBeNil)

	out, _, err := runApp(t, "check", "--dir", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, checkRepaired)
	test.That(t, out, test.ShouldContainSubstring, checkCreated)
	test.That(t, out, test.ShouldContainSubstring, checkOK)

	for _, name := range []string{"lat_lqr.json", "lat_indi.json", "lat_torque_v4.json", "common.json", "scc.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		test.That(t, err, test.ShouldBeNil)
	}

	// a second pass has nothing left to fix
	out, _, err = runApp(t, "check", "--dir", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldNotContainSubstring, checkRepaired)
	test.That(t, out, test.ShouldNotContainSubstring, checkCreated)
}

func TestShowAction(t *testing.T) {
	dir := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(dir, "lat_lqr.json"), []byte(`{"scale": 9000}`), 0o600), test.ShouldBeNil)

	out, _, err := runApp(t, "show", "--dir", dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "steerLimitTimer")
	test.That(t, out, test.ShouldContainSubstring, "5000")
	test.That(t, out, test.ShouldContainSubstring, "pathOffset")
}

func TestRunAction(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(t.TempDir(), "latctl.log")

	out, _, err := runApp(t, "--debug", "--log-file", logFile,
		"run", "--dir", dir, "--duration", "300ms", "--mode", "torque", "--speed", "15")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "TICKS")
	test.That(t, out, test.ShouldContainSubstring, "torque")

	_, err = os.Stat(filepath.Join(dir, "lat_torque_v4.json"))
	test.That(t, err, test.ShouldBeNil)
	_, err = os.Stat(filepath.Join(dir, "common.json"))
	test.That(t, err, test.ShouldBeNil)

	logs, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logs), test.ShouldContainSubstring, "applied tuning")
}

func TestRunActionBadMode(t *testing.T) {
	_, _, err := runApp(t, "run", "--dir", t.TempDir(), "--duration", "10ms", "--mode", "pid")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "lateral_mode")
}
