package config

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"
)

// Validate checks the whole configuration. Nested sections are validated
// through their own Validate methods.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Database),
		validation.Field(&c.Storage),
		validation.Field(&c.Extract),
		validation.Field(&c.Janitor),
		validation.Field(&c.Logging),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&s.MaxMultipartMemory, validation.Min(int64(0))),
	)
}

func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.In("postgres", "sqlite")),
		validation.Field(&d.SQLitePath, validation.When(d.Driver == "sqlite", validation.Required)),
		validation.Field(&d.Host, validation.When(d.Driver == "postgres", validation.Required)),
	)
}

func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Type, validation.Required, validation.In("local", "memory")),
		validation.Field(&s.RootPath, validation.Required),
	)
}

func (e ExtractConfig) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.MaxBytes, validation.Min(int64(0))),
		validation.Field(&e.MaxEntries, validation.Min(0)),
	)
}

func (j JanitorConfig) Validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.Schedule, validation.When(j.Enabled, validation.Required, validation.By(validateSchedule))),
		validation.Field(&j.MaxAge, validation.When(j.Enabled, validation.Required)),
	)
}

func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Format, validation.In("json", "console", "text")),
	)
}

func validateSchedule(value interface{}) error {
	schedule, ok := value.(string)
	if !ok {
		return errors.New("schedule must be a string")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return errors.New("must be a cron expression or @every descriptor")
	}
	return nil
}
