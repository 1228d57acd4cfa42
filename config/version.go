// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository at
// https://github.com/hyperledger-labs/perun-appchannel
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

package config

import "fmt"

// Version of the node binary.
type Version struct {
	Major, Minor, Patch int
	Meta                string
}

// String returns the semantic version string.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Meta != "" {
		s += "-" + v.Meta
	}
	return s
}

// StringWithCommitID appends the first 8 characters of the commit id.
func (v Version) StringWithCommitID(commitID string) string {
	if len(commitID) > 8 {
		commitID = commitID[:8]
	}
	if commitID == "" {
		return v.String()
	}
	return v.String() + "-" + commitID
}
