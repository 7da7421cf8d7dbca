package receipt

import (
	"fmt"
	"strings"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentSandbox    Environment = "sandbox"
)

// ParseEnvironment accepts both the API spelling ("sandbox") and Apple's ("Sandbox").
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(EnvironmentProduction):
		return EnvironmentProduction, nil
	case string(EnvironmentSandbox):
		return EnvironmentSandbox, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Other returns the opposite environment.
func (e Environment) Other() Environment {
	if e == EnvironmentSandbox {
		return EnvironmentProduction
	}
	return EnvironmentSandbox
}

func (e Environment) Valid() bool {
	return e == EnvironmentProduction || e == EnvironmentSandbox
}
