package models

import (
	"testing"

	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() JobInput {
	return JobInput{
		Name:         "Daily Sales",
		SourceType:   "csv",
		SourceConfig: ConnectorConfig{"file_path": "/data/sales.csv"},
		SinkType:     "sqlite",
		SinkConfig:   ConnectorConfig{"database_path": "/data/out.db"},
	}
}

func TestJobInputValidate(t *testing.T) {
	in := validInput()
	in.Normalize()
	require.NoError(t, in.Validate())
	require.NotNil(t, in.Enabled)
	assert.True(t, *in.Enabled)

	cases := map[string]func(*JobInput){
		"empty name":       func(in *JobInput) { in.Name = "  " },
		"no source type":   func(in *JobInput) { in.SourceType = "" },
		"no sink type":     func(in *JobInput) { in.SinkType = "" },
		"invalid minute":   func(in *JobInput) { in.Schedule = "99 * * * *" },
		"never fires":      func(in *JobInput) { in.Schedule = "0 0 30 2 *" },
		"too many fields":  func(in *JobInput) { in.Schedule = "0 0 0 * * *" },
		"descriptor given": func(in *JobInput) { in.Schedule = "@hourly" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			in.Normalize()
			err := in.Validate()
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestJobDestination(t *testing.T) {
	assert.Equal(t, "daily_sales_report", Job{Name: " Daily Sales Report "}.Destination())
}

func TestJobScheduled(t *testing.T) {
	assert.True(t, Job{Enabled: true, Schedule: "0 2 * * *"}.Scheduled())
	assert.False(t, Job{Enabled: false, Schedule: "0 2 * * *"}.Scheduled())
	assert.False(t, Job{Enabled: true}.Scheduled())
}

func TestJobPatchApply(t *testing.T) {
	job := Job{
		ID:         3,
		Name:       "orders",
		SourceType: "csv",
		SinkType:   "json",
		Schedule:   "0 2 * * *",
		Query:      "select 1",
		Enabled:    true,
	}

	empty := ""
	disabled := false
	in := JobPatch{Schedule: &empty, Enabled: &disabled}.Apply(job)

	assert.Equal(t, "orders", in.Name)
	assert.Equal(t, "", in.Schedule)
	assert.Equal(t, "select 1", in.Query)
	assert.False(t, *in.Enabled)
	assert.NotNil(t, in.SourceConfig)
	assert.True(t, JobPatch{Enabled: &disabled}.SchedulingChanged())
	assert.False(t, JobPatch{Query: &empty}.SchedulingChanged())
}

func TestConnectorConfigScan(t *testing.T) {
	var cfg ConnectorConfig
	require.NoError(t, cfg.Scan([]byte(`{"port": 5432, "host": "db"}`)))
	assert.Equal(t, "db", cfg["host"])
	assert.Equal(t, float64(5432), cfg["port"])

	require.NoError(t, cfg.Scan(nil))
	assert.Empty(t, cfg)

	v, err := ConnectorConfig(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)

	assert.Error(t, cfg.Scan(42))
}
