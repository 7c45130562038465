package config

import (
	"os"
	"regexp"

	"go.uber.org/zap"
)

// envVarPattern matches ${NAME} where NAME is a shell-identifier-shaped
// environment variable name. Substitution is never recursive: the
// replacement value is inserted verbatim, not re-scanned.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute expands every ${NAME} placeholder in s against the
// process environment. An undefined NAME leaves the placeholder intact
// and logs a warning. Substitute(Substitute(s)) == Substitute(s) holds
// when no substituted value itself contains ${NAME} text: a left-over
// placeholder that was undefined the first time is still undefined
// (and still left alone) the second time. A value that does contain
// ${NAME} text is inserted as-is by one call and expanded by a second.
func Substitute(logger *zap.Logger, s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			if logger != nil {
				logger.Warn("environment variable not defined, keeping placeholder", zap.String("name", name))
			}
			return match
		}
		return val
	})
}

func substituteSlice(logger *zap.Logger, in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Substitute(logger, s)
	}
	return out
}

func substituteMap(logger *zap.Logger, in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = Substitute(logger, v)
	}
	return out
}

func substituteSpec(logger *zap.Logger, spec *ServerSpec) {
	spec.URL = Substitute(logger, spec.URL)
	spec.Args = substituteSlice(logger, spec.Args)
	spec.Env = substituteMap(logger, spec.Env)
	spec.Headers = substituteMap(logger, spec.Headers)
	spec.OAuthClientID = Substitute(logger, spec.OAuthClientID)
}
