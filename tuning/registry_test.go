package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(t.TempDir(), logging.NewTestLogger(t))
	r.DisableWatching()
	t.Cleanup(func() {
		test.That(t, r.Close(), test.ShouldBeNil)
	})
	return r
}

func TestRegistryGet(t *testing.T) {
	r := newTestRegistry(t)

	v, err := r.Get(GroupCommon, "steerRatio")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 16.5)
	test.That(t, r.Enabled(GroupCommon, "useLiveSteerRatio"), test.ShouldBeTrue)
	test.That(t, r.Enabled(GroupCommon, "nope"), test.ShouldBeFalse)

	_, err = os.Stat(filepath.Join(r.Dir(), "common.json"))
	test.That(t, err, test.ShouldBeNil)

	_, err = r.Get(GroupCommon, "nope")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no parameter")

	_, err = r.Get("lat_pid", "kp")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, r.Groups(), test.ShouldResemble, []Group{GroupCommon})
}

func TestRegistryGetReloads(t *testing.T) {
	r := newTestRegistry(t)
	v, err := r.Get(GroupSCC, "sccGasFactor")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1.0)

	path := filepath.Join(r.Dir(), GroupSCC.FileName())
	writeTuningFile(t, path, `{"sccGasFactor": 1.2}`)

	// without a change notification the old value stays
	v, err = r.Get(GroupSCC, "sccGasFactor")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1.0)

	r.shared[GroupSCC].MarkPending()
	v, err = r.Get(GroupSCC, "sccGasFactor")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 1.2)

	values, err := r.Values(GroupSCC)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, values["sccCurvatureFactor"], test.ShouldEqual, 0.98)
}

func TestRegistrySeed(t *testing.T) {
	r := newTestRegistry(t)
	r.SetSeed(GroupCommon, config.AttributeMap{"steerRatio": 13.0, "steerActuatorDelay": 0.2})
	v, err := r.Get(GroupCommon, "steerActuatorDelay")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 0.2)
}

func TestRegistryAttachRelease(t *testing.T) {
	r := newTestRegistry(t)
	target := &fakeTarget{group: GroupTorque}

	s, err := r.Attach(target, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Group(), test.ShouldEqual, GroupTorque)
	test.That(t, target.applied, test.ShouldHaveLength, 1)
	test.That(t, r.Groups(), test.ShouldResemble, []Group{GroupTorque})

	test.That(t, r.Release(s), test.ShouldBeNil)
	test.That(t, r.Groups(), test.ShouldBeEmpty)
	test.That(t, r.Release(nil), test.ShouldBeNil)

	// a released store no longer reaches its controller
	s.MarkPending()
	test.That(t, s.Check(), test.ShouldBeTrue)
	test.That(t, target.applied, test.ShouldHaveLength, 1)
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(t.TempDir(), logging.NewTestLogger(t))
	target := &fakeTarget{group: GroupLQR}
	_, err := r.Attach(target, false)
	test.That(t, err, test.ShouldBeNil)
	_, err = r.Get(GroupCommon, "steerRatio")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, r.Close(), test.ShouldBeNil)
	test.That(t, r.Close(), test.ShouldBeNil)

	_, err = r.Attach(target, false)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = r.Get(GroupCommon, "steerRatio")
	test.That(t, err, test.ShouldNotBeNil)
}
