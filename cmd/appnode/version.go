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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperledger-labs/perun-appchannel/config"
)

var (
	// version holds the version of the node binary. If the package is built from a tagged version of the
	// source code, it will be set to the tag name during build using linker flags.
	version string

	// gitCommitID holds the git commit ID of the source code used for building the package. This variable
	// be set during build using linker flags.
	gitCommitID string

	// defaultVersion is reported when the binary was not built from a tag.
	defaultVersion = config.Version{Major: 0, Minor: 1, Patch: 0, Meta: "unstable"}
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information for appnode",
	Long:  `Print the version information for appnode`,
	Run:   versionFn,
}

func versionFn(_ *cobra.Command, _ []string) {
	fmt.Println(versionString())
}

func versionString() string {
	if version != "" {
		return version + " Git revision: " + gitCommitID
	}
	return defaultVersion.StringWithCommitID(gitCommitID)
}
