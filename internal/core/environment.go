package core

import "strings"

// Environment is where the chat service runs. It selects the log format and
// how much of a failure the HTTP API reveals.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

func (e Environment) IsProduction() bool {
	return e == Production
}

// ExposesErrorCause reports whether error responses may carry the wrapped
// cause, e.g. "answer generation failed: quota exceeded". Only development
// and testing do; staging mirrors production.
func (e Environment) ExposesErrorCause() bool {
	return e == Development || e == Testing
}

// ParseEnvironment reads ENVIRONMENT case-insensitively and accepts the short
// forms prod, stage, test and dev. Anything else is Development.
func ParseEnvironment(v string) Environment {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "production", "prod":
		return Production
	case "staging", "stage":
		return Staging
	case "testing", "test":
		return Testing
	default:
		return Development
	}
}
