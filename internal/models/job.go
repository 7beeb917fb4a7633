package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/schedule"
)

// ConnectorConfig is the opaque key/value mapping handed to a connector.
// It is stored as a JSON object.
type ConnectorConfig map[string]interface{}

func (c ConnectorConfig) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *ConnectorConfig) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = ConnectorConfig{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported connector config type %T", src)
	}
	cfg := ConnectorConfig{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return err
		}
	}
	*c = cfg
	return nil
}

type Job struct {
	ID           int64           `json:"job_id" db:"job_id"`
	Name         string          `json:"job_name" db:"job_name"`
	SourceType   string          `json:"source_type" db:"source_type"`
	SourceConfig ConnectorConfig `json:"source_config" db:"source_config"`
	SinkType     string          `json:"sink_type" db:"sink_type"`
	SinkConfig   ConnectorConfig `json:"sink_config" db:"sink_config"`
	Query        string          `json:"query,omitempty" db:"query"`
	Schedule     string          `json:"schedule,omitempty" db:"schedule"`
	Enabled      bool            `json:"enabled" db:"enabled"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Scheduled reports whether the scheduler should hold a timer for the job.
func (j Job) Scheduled() bool {
	return j.Enabled && strings.TrimSpace(j.Schedule) != ""
}

// Destination is the name a sink writes the job's rows to.
func (j Job) Destination() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(j.Name)), " ", "_")
}

// JobInput is a complete job definition as accepted by create.
type JobInput struct {
	Name         string          `json:"job_name"`
	SourceType   string          `json:"source_type"`
	SourceConfig ConnectorConfig `json:"source_config"`
	SinkType     string          `json:"sink_type"`
	SinkConfig   ConnectorConfig `json:"sink_config"`
	Query        string          `json:"query,omitempty"`
	Schedule     string          `json:"schedule,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
}

// Normalize trims the free-text fields and applies defaults.
func (in *JobInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.SourceType = strings.ToLower(strings.TrimSpace(in.SourceType))
	in.SinkType = strings.ToLower(strings.TrimSpace(in.SinkType))
	in.Schedule = strings.TrimSpace(in.Schedule)
	if in.SourceConfig == nil {
		in.SourceConfig = ConnectorConfig{}
	}
	if in.SinkConfig == nil {
		in.SinkConfig = ConnectorConfig{}
	}
	if in.Enabled == nil {
		enabled := true
		in.Enabled = &enabled
	}
}

// Validate checks the definition rules that do not need the store.
func (in JobInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validationf("job name is required")
	}
	if strings.TrimSpace(in.SourceType) == "" {
		return apperrors.Validationf("source type is required")
	}
	if strings.TrimSpace(in.SinkType) == "" {
		return apperrors.Validationf("sink type is required")
	}
	if expr := strings.TrimSpace(in.Schedule); expr != "" {
		if err := schedule.Validate(expr); err != nil {
			return apperrors.Validationf("invalid schedule %q: %v", expr, err)
		}
	}
	return nil
}

// JobPatch carries the fields of a partial update. Nil means unchanged;
// an empty Schedule or Query clears the value.
type JobPatch struct {
	Name         *string          `json:"job_name,omitempty"`
	SourceType   *string          `json:"source_type,omitempty"`
	SourceConfig *ConnectorConfig `json:"source_config,omitempty"`
	SinkType     *string          `json:"sink_type,omitempty"`
	SinkConfig   *ConnectorConfig `json:"sink_config,omitempty"`
	Query        *string          `json:"query,omitempty"`
	Schedule     *string          `json:"schedule,omitempty"`
	Enabled      *bool            `json:"enabled,omitempty"`
}

// Apply returns the input that results from applying p on top of job.
func (p JobPatch) Apply(job Job) JobInput {
	in := JobInput{
		Name:         job.Name,
		SourceType:   job.SourceType,
		SourceConfig: job.SourceConfig,
		SinkType:     job.SinkType,
		SinkConfig:   job.SinkConfig,
		Query:        job.Query,
		Schedule:     job.Schedule,
		Enabled:      &job.Enabled,
	}
	if p.Name != nil {
		in.Name = *p.Name
	}
	if p.SourceType != nil {
		in.SourceType = *p.SourceType
	}
	if p.SourceConfig != nil {
		in.SourceConfig = *p.SourceConfig
	}
	if p.SinkType != nil {
		in.SinkType = *p.SinkType
	}
	if p.SinkConfig != nil {
		in.SinkConfig = *p.SinkConfig
	}
	if p.Query != nil {
		in.Query = *p.Query
	}
	if p.Schedule != nil {
		in.Schedule = *p.Schedule
	}
	if p.Enabled != nil {
		in.Enabled = p.Enabled
	}
	in.Normalize()
	return in
}

// SchedulingChanged reports whether applying p may change the scheduler's view of a job.
func (p JobPatch) SchedulingChanged() bool {
	return p.Schedule != nil || p.Enabled != nil
}

type JobWithLastRun struct {
	Job
	LastRun *Execution `json:"last_run"`
}
