// Package appconf holds application-level configuration shared across packages.
package appconf

type Environment int

const (
	Development Environment = iota
	Test
	Production
)

func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps the -env CLI flag value to an Environment.
// Unknown values fall back to Development.
func EnvFlagToEnvironment(flag string) Environment {
	switch flag {
	case "test":
		return Test
	case "production":
		return Production
	default:
		return Development
	}
}

// Config holds the process-wide settings supplied via flags and environment.
type Config struct {
	Env         Environment
	Verbose     bool
	OutputDir   string
	DataDir     string
	MetricsAddr string
	DebugDump   bool
}
