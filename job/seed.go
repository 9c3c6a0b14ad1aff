package job

import (
	"context"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quenby/chime/errors"
	"github.com/quenby/chime/schedule"
)

// Seed file shape:
//
//	jobs:
//	  - name: nightly-report
//	    recipient: https://ops.example.com/hooks/report
//	    command:
//	      type: webhook.post
//	      payload: '{"scope":"daily"}'
//	    enabled: true
//	    schedule:
//	      kind: daily
//	      times: ["06:30"]
type seedFile struct {
	Jobs []seedJob `yaml:"jobs"`
}

type seedJob struct {
	Name      string       `yaml:"name"`
	Recipient string       `yaml:"recipient"`
	Command   seedCommand  `yaml:"command"`
	Enabled   bool         `yaml:"enabled"`
	Schedule  seedSchedule `yaml:"schedule"`
}

type seedCommand struct {
	Type    string `yaml:"type"`
	Payload string `yaml:"payload"`
}

type seedSchedule struct {
	Kind  string     `yaml:"kind"`
	Start *time.Time `yaml:"start"`
	End   *time.Time `yaml:"end"`
	Every string     `yaml:"every"`
	Times []string   `yaml:"times"`
	Items []struct {
		Day string `yaml:"day"`
		At  string `yaml:"at"`
	} `yaml:"items"`
}

// ParseSeed decodes a YAML seed document into definitions. Every definition
// is validated; the first invalid entry fails the whole parse.
func ParseSeed(data []byte) ([]*Definition, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "decode seed file")
	}

	var defs []*Definition
	for i, sj := range file.Jobs {
		if sj.Name == "" {
			return nil, errors.NewInvalidRequestError("seed job %d: name is required", i)
		}
		if sj.Command.Type == "" {
			return nil, errors.NewInvalidRequestError("seed job %q: command type is required", sj.Name)
		}
		sched, err := sj.Schedule.toSchedule()
		if err != nil {
			return nil, errors.Wrapf(err, "seed job %q", sj.Name)
		}
		if err := sched.Validate(); err != nil {
			return nil, errors.Wrapf(err, "seed job %q", sj.Name)
		}

		defs = append(defs, &Definition{
			Name:        sj.Name,
			Recipient:   sj.Recipient,
			CommandType: sj.Command.Type,
			Payload:     []byte(sj.Command.Payload),
			Enabled:     sj.Enabled,
			Schedule:    sched,
		})
	}
	return defs, nil
}

// ImportFile loads a YAML seed file and creates every definition in it.
// Returns the created definitions.
func ImportFile(ctx context.Context, store *Store, path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read seed file %s", path)
	}
	defs, err := ParseSeed(data)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if err := store.Create(ctx, def); err != nil {
			return nil, errors.Wrapf(err, "import job %q", def.Name)
		}
	}
	return defs, nil
}

func (ss seedSchedule) toSchedule() (*schedule.Schedule, error) {
	out := &schedule.Schedule{
		Kind:  schedule.Kind(ss.Kind),
		Start: ss.Start,
		End:   ss.End,
	}
	if ss.Every != "" {
		every, err := time.ParseDuration(ss.Every)
		if err != nil {
			return nil, errors.Wrapf(err, "schedule period %q", ss.Every)
		}
		out.Every = every
	}
	for _, raw := range ss.Times {
		tod, err := schedule.ParseTimeOfDay(raw)
		if err != nil {
			return nil, err
		}
		out.Times = append(out.Times, tod)
	}
	for _, item := range ss.Items {
		day, err := schedule.ParseWeekday(item.Day)
		if err != nil {
			return nil, err
		}
		at, err := schedule.ParseTimeOfDay(item.At)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, schedule.WeeklyItem{Day: day, At: at})
	}
	return out, nil
}
