package cli

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/tuning"
)

// Outcomes of checking a tuning file.
const (
	checkCreated  = "created"
	checkRepaired = "repaired"
	checkOK       = "ok"
)

// CheckAction loads every group once so missing, corrupt or out of range files get rewritten.
func CheckAction(c *cli.Context) error {
	logger := loggerFrom(c)
	dir := tuningDir(c)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Group", "File", "Status"})
	var err error
	for _, group := range tuning.Groups() {
		status, checkErr := checkGroup(dir, group, logger)
		if checkErr != nil {
			err = multierr.Combine(err, checkErr)
			continue
		}
		t.AppendRow(table.Row{group, group.FileName(), status})
	}
	printf(c.App.Writer, "%s", t.Render())
	return err
}

// checkGroup loads group from dir and reports what happened to its file.
func checkGroup(dir string, group tuning.Group, logger logging.Logger) (string, error) {
	path := filepath.Join(dir, group.FileName())
	//nolint:gosec
	before, readErr := os.ReadFile(path)

	s, err := tuning.NewStore(group, nil, tuning.Options{Dir: dir, NoWatch: true}, logger.Sublogger(string(group)))
	if err != nil {
		return "", err
	}
	if err := s.Close(); err != nil {
		return "", err
	}

	//nolint:gosec
	after, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "%s could not be written", path)
	}
	switch {
	case readErr != nil:
		return checkCreated, nil
	case !bytes.Equal(before, after):
		return checkRepaired, nil
	default:
		return checkOK, nil
	}
}

// ShowAction prints the validated value of every parameter next to its range.
func ShowAction(c *cli.Context) (err error) {
	logger := loggerFrom(c)
	registry := tuning.NewRegistry(tuningDir(c), logger.Sublogger("tuning"))
	registry.DisableWatching()
	defer func() {
		err = multierr.Combine(err, registry.Close())
	}()

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Group", "Param", "Value", "Min", "Max", "Default"})
	for _, group := range tuning.Groups() {
		values, err := registry.Values(group)
		if err != nil {
			return err
		}
		schema, err := tuning.SchemaFor(group)
		if err != nil {
			return err
		}
		for _, p := range schema {
			t.AppendRow(table.Row{group, p.Name, values[p.Name], p.Min, p.Max, p.Default})
		}
		t.AppendSeparator()
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// DefaultsAction prints every tunable parameter with its range and default.
func DefaultsAction(c *cli.Context) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Group", "File", "Param", "Min", "Max", "Default"})
	for _, group := range tuning.Groups() {
		schema, err := tuning.SchemaFor(group)
		if err != nil {
			return err
		}
		for _, p := range schema {
			t.AppendRow(table.Row{group, group.FileName(), p.Name, p.Min, p.Max, p.Default})
		}
		t.AppendSeparator()
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}
