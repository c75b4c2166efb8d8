// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "fmt"

var (
	// commitHash contains the current Git revision; set at build time
	commitHash string

	// buildDate contains the date of the current build; set at build time
	buildDate string
)

// Version represents a SemVer 2.0.0 compatible build version
type Version struct {
	Major  int
	Minor  int
	Patch  int
	Suffix string
}

var CurrentVersion = Version{
	Major:  0,
	Minor:  3,
	Patch:  0,
	Suffix: "dev",
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Suffix != "" {
		s = fmt.Sprintf("%s-%s", s, v.Suffix)
	}
	return s
}

// BuildInfo returns version plus commit / build-date details when available
func BuildInfo() string {
	s := CurrentVersion.String()
	if commitHash != "" {
		s = fmt.Sprintf("%s (%s)", s, commitHash)
	}
	if buildDate != "" {
		s = fmt.Sprintf("%s built %s", s, buildDate)
	}
	return s
}
