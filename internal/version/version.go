// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package version

import "fmt"

// Injected at build time via -ldflags.
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

const DevelopmentVersion = "dev"

// Output is the structured form of version information, suitable for
// JSON or YAML rendering by the version command.
type Output struct {
	Version        string `json:"version" yaml:"version"`
	CommitHash     string `json:"commitHash,omitempty" yaml:"commitHash,omitempty"`
	BuildTimestamp string `json:"buildTimestamp,omitempty" yaml:"buildTimestamp,omitempty"`
}

func Get() Output {
	return Output{
		Version:        ProductVersion,
		CommitHash:     CommitHash,
		BuildTimestamp: BuildTimestamp,
	}
}

// String renders a human-readable, single-line version string.
func (o Output) String() string {
	s := o.Version
	if o.CommitHash != "" {
		s = fmt.Sprintf("%s (%s)", s, o.CommitHash)
	}
	return s
}
