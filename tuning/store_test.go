package tuning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/hybridlat/latcontrol/config"
	"github.com/hybridlat/latcontrol/logging"
)

type fakeTarget struct {
	group    Group
	current  config.AttributeMap
	applyErr error
	applied  []config.AttributeMap
}

func (ft *fakeTarget) TuningGroup() Group {
	return ft.group
}

func (ft *fakeTarget) CurrentTuning() config.AttributeMap {
	return ft.current
}

func (ft *fakeTarget) ApplyTuning(values config.AttributeMap) error {
	if ft.applyErr != nil {
		return ft.applyErr
	}
	ft.applied = append(ft.applied, values)
	return nil
}

func readTuningFile(t *testing.T, path string) config.AttributeMap {
	t.Helper()
	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	var values config.AttributeMap
	test.That(t, json.Unmarshal(data, &values), test.ShouldBeNil)
	return values
}

func writeTuningFile(t *testing.T, path, contents string) {
	t.Helper()
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
}

func TestStoreCreatesMissingFile(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := filepath.Join(t.TempDir(), "ntune")

	s, err := NewStore(GroupLQR, nil, Options{Dir: dir, NoWatch: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	test.That(t, s.Path(), test.ShouldEqual, filepath.Join(dir, "lat_lqr.json"))
	test.That(t, readTuningFile(t, s.Path()), test.ShouldResemble, schemas[GroupLQR].Defaults())
	test.That(t, s.Values(), test.ShouldResemble, schemas[GroupLQR].Defaults())

	info, err := os.Stat(s.Path())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Mode().Perm(), test.ShouldEqual, os.FileMode(0o666))

	data, err := os.ReadFile(s.Path())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual,
		"{\n  \"scale\": 1600,\n  \"ki\": 0.01,\n  \"dcGain\": 0.0025,\n  \"steerLimitTimer\": 2.5\n}\n")
}

func TestStoreUnknownGroup(t *testing.T) {
	_, err := NewStore("lat_pid", nil, Options{Dir: t.TempDir(), NoWatch: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStoreSelfHealsCorruptFile(t *testing.T) {
	for _, contents := range []string{"{not json", "", "null", "[1, 2]"} {
		t.Run(contents, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, GroupTorque.FileName())
			writeTuningFile(t, path, contents)

			s, err := NewStore(GroupTorque, nil, Options{Dir: dir, NoWatch: true}, logging.NewTestLogger(t))
			test.That(t, err, test.ShouldBeNil)
			defer s.Close()

			test.That(t, readTuningFile(t, path), test.ShouldResemble, schemas[GroupTorque].Defaults())
			_, changed := Validate(GroupTorque, s.Values())
			test.That(t, changed, test.ShouldBeFalse)
		})
	}
}

func TestStoreSynthesizesFromController(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{group: GroupLQR, current: config.AttributeMap{"scale": 2000.0, "ki": 0.05, "dcGain": 0.003}}

	s, err := NewStore(GroupLQR, NewHandle(target), Options{Dir: dir, NoWatch: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	expected := config.AttributeMap{"scale": 2000.0, "ki": 0.05, "dcGain": 0.003, "steerLimitTimer": 2.5}
	test.That(t, readTuningFile(t, s.Path()), test.ShouldResemble, expected)
	test.That(t, target.applied, test.ShouldHaveLength, 1)
	test.That(t, target.applied[0], test.ShouldResemble, expected)
}

func TestStoreUsesSeedWithoutController(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(GroupCommon, nil, Options{
		Dir: dir, NoWatch: true, Seed: config.AttributeMap{"steerRatio": 14.2},
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	v, ok := s.Get("steerRatio")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 14.2)
	test.That(t, readTuningFile(t, s.Path())["steerRatio"], test.ShouldEqual, 14.2)
}

func TestStoreRepairsOutOfRangeFile(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	dir := t.TempDir()
	path := filepath.Join(dir, GroupLQR.FileName())
	writeTuningFile(t, path, `{"scale": 10, "ki": 0.02, "note": "mine"}`)
	target := &fakeTarget{group: GroupLQR}

	s, err := NewStore(GroupLQR, NewHandle(target), Options{Dir: dir, NoWatch: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	onDisk := readTuningFile(t, path)
	test.That(t, onDisk["scale"], test.ShouldEqual, 500.0)
	test.That(t, onDisk["ki"], test.ShouldEqual, 0.02)
	test.That(t, onDisk["dcGain"], test.ShouldEqual, 0.0025)
	test.That(t, onDisk["note"], test.ShouldEqual, "mine")
	test.That(t, target.applied, test.ShouldHaveLength, 1)
	test.That(t, target.applied[0]["scale"], test.ShouldEqual, 500.0)

	test.That(t, logs.FilterMessage("corrected tuning value").Len(), test.ShouldEqual, 3)
}

func TestStoreValidFileIsNotRewritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, GroupSCC.FileName())
	contents := `{"sccGasFactor": 1.1, "sccBrakeFactor": 0.9, "sccCurvatureFactor": 1.0}`
	writeTuningFile(t, path, contents)

	s, err := NewStore(GroupSCC, nil, Options{Dir: dir, NoWatch: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldEqual, contents)
}

func TestStoreCheck(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{group: GroupINDI}
	s, err := NewStore(GroupINDI, NewHandle(target), Options{Dir: dir, NoWatch: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	test.That(t, target.applied, test.ShouldHaveLength, 1)

	// nothing pending
	test.That(t, s.Check(), test.ShouldBeFalse)
	test.That(t, target.applied, test.ShouldHaveLength, 1)

	writeTuningFile(t, s.Path(), `{"actuatorEffectiveness": 2.0, "timeConstant": 1.0, "innerLoopGain": 9.0, "outerLoopGain": 3.0}`)
	s.MarkPending()
	test.That(t, s.Pending(), test.ShouldBeTrue)
	test.That(t, s.Check(), test.ShouldBeTrue)
	test.That(t, s.Pending(), test.ShouldBeFalse)
	test.That(t, target.applied, test.ShouldHaveLength, 2)
	test.That(t, target.applied[1]["actuatorEffectiveness"], test.ShouldEqual, 2.0)
	test.That(t, target.applied[1]["innerLoopGain"], test.ShouldEqual, 5.0)
	test.That(t, readTuningFile(t, s.Path())["innerLoopGain"], test.ShouldEqual, 5.0)

	test.That(t, s.Check(), test.ShouldBeFalse)
	test.That(t, target.applied, test.ShouldHaveLength, 2)
}

func TestStoreKeepsLastGoodValuesOnBadReload(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	dir := t.TempDir()
	target := &fakeTarget{group: GroupLQR}
	s, err := NewStore(GroupLQR, NewHandle(target), Options{Dir: dir, NoWatch: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	before := s.Values()

	writeTuningFile(t, s.Path(), `{"scale": `)
	s.MarkPending()
	test.That(t, s.Check(), test.ShouldBeFalse)
	test.That(t, s.Values(), test.ShouldResemble, before)
	test.That(t, target.applied, test.ShouldHaveLength, 1)
	test.That(t, logs.FilterMessage("keeping last validated tuning").Len(), test.ShouldEqual, 1)
}

func TestStoreDisableApply(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{group: GroupTorque}
	s, err := NewStore(GroupTorque, NewHandle(target), Options{Dir: dir, NoWatch: true, DisableApply: true},
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	writeTuningFile(t, s.Path(), `{"maxLatAccel": 7}`)
	s.MarkPending()
	test.That(t, s.Check(), test.ShouldBeTrue)
	v, ok := s.Get("maxLatAccel")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 4.0)
	test.That(t, target.applied, test.ShouldBeEmpty)
}

func TestStoreDetachedHandle(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{group: GroupLQR}
	handle := NewHandle(target)
	s, err := NewStore(GroupLQR, handle, Options{Dir: dir, NoWatch: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()

	handle.Detach()
	handle.Detach()
	_, ok := handle.Target()
	test.That(t, ok, test.ShouldBeFalse)

	writeTuningFile(t, s.Path(), `{"scale": 1800}`)
	s.MarkPending()
	test.That(t, s.Check(), test.ShouldBeTrue)
	test.That(t, target.applied, test.ShouldHaveLength, 1)
	v, _ := s.Get("scale")
	test.That(t, v, test.ShouldEqual, 1800.0)
}

func TestStoreApplyErrorIsLogged(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	target := &fakeTarget{group: GroupINDI, applyErr: errors.New("bad gains")}
	s, err := NewStore(GroupINDI, NewHandle(target), Options{Dir: t.TempDir(), NoWatch: true}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	test.That(t, logs.FilterMessage("failed to apply tuning").Len(), test.ShouldEqual, 1)
	test.That(t, s.Values(), test.ShouldResemble, schemas[GroupINDI].Defaults())
}

func TestStoreWatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{group: GroupLQR}
	s, err := NewStore(GroupLQR, NewHandle(target), Options{Dir: dir}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	test.That(t, s.Pending(), test.ShouldBeFalse)

	writeTuningFile(t, s.Path(), `{"scale": 2500, "ki": 0.01, "dcGain": 0.0025, "steerLimitTimer": 2.5}`)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, s.Pending(), test.ShouldBeTrue)
	})
	test.That(t, s.Check(), test.ShouldBeTrue)
	test.That(t, target.applied[len(target.applied)-1]["scale"], test.ShouldEqual, 2500.0)

	// a change to another group's file flags this store too
	writeTuningFile(t, filepath.Join(dir, GroupCommon.FileName()), `{}`)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, s.Pending(), test.ShouldBeTrue)
	})
}

func TestStoreIgnoresItsOwnRepair(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{group: GroupLQR}
	s, err := NewStore(GroupLQR, NewHandle(target), Options{Dir: dir}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	test.That(t, target.applied, test.ShouldHaveLength, 1)

	writeTuningFile(t, s.Path(), `{"scale": 99999}`)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, s.Pending(), test.ShouldBeTrue)
	})
	test.That(t, s.Check(), test.ShouldBeTrue)
	test.That(t, target.applied, test.ShouldHaveLength, 2)
	test.That(t, readTuningFile(t, s.Path())["scale"], test.ShouldEqual, 5000.0)

	// the write-back of the clamped values is seen by the watcher but is not a new edit
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, s.Pending(), test.ShouldBeTrue)
	})
	test.That(t, s.Check(), test.ShouldBeFalse)
	test.That(t, target.applied, test.ShouldHaveLength, 2)
}

func TestStoreReloadsEditMatchingEarlierWrite(t *testing.T) {
	dir := t.TempDir()
	target := &fakeTarget{group: GroupLQR}
	s, err := NewStore(GroupLQR, NewHandle(target), Options{Dir: dir, NoWatch: true}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer s.Close()
	created, err := os.ReadFile(s.Path())
	test.That(t, err, test.ShouldBeNil)

	writeTuningFile(t, s.Path(), `{"scale": 2000, "ki": 0.01, "dcGain": 0.0025, "steerLimitTimer": 2.5}`)
	s.MarkPending()
	test.That(t, s.Check(), test.ShouldBeTrue)

	// restoring the generated file byte for byte is still an edit
	writeTuningFile(t, s.Path(), string(created))
	s.MarkPending()
	test.That(t, s.Check(), test.ShouldBeTrue)
	test.That(t, target.applied, test.ShouldHaveLength, 3)
	test.That(t, target.applied[2]["scale"], test.ShouldEqual, 1600.0)
}
