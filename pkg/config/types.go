package config

import (
	"fmt"
	"time"
)

// StringOrList accepts either a single string or a list of strings.
type StringOrList []string

func (sl *StringOrList) UnmarshalYAML(unmarshal func(any) error) error {
	var multi []string
	if err := unmarshal(&multi); err != nil {
		var single string
		if err := unmarshal(&single); err != nil {
			return err
		}

		*sl = []string{single}
		return nil
	}

	*sl = multi
	return nil
}

// Duration is a time.Duration written as "1s", "500ms" in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var seconds float64
		if err := unmarshal(&seconds); err != nil {
			return err
		}
		*d = Duration(seconds * float64(time.Second))
		return nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}
