package environment

import "strings"

// RequiredEnvError is returned when none of the candidate variables holding a secret is set.
type RequiredEnvError struct {
	Missing []string
}

func (e *RequiredEnvError) Error() string {
	return "one of these environment variables must be set: " + strings.Join(e.Missing, ", ")
}
