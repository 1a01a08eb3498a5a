// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// flags carries the process-level options adectl binds, mirroring
// the teacher's source/server.Config Bind/Preflight split: Bind never
// fails, Preflight rejects anything the process cannot safely run
// with.
type flags struct {
	PodPath       string
	BindAddr      string
	SourceWait    bool
	ShutdownGrace string
	LogLevel      string
}

// Bind registers adectl's flags.
func (f *flags) Bind(set *pflag.FlagSet) {
	set.StringVar(&f.PodPath, "pod", "spicepod.yaml",
		"path to the Spicepod configuration document")
	set.StringVar(&f.BindAddr, "metricsAddr", ":9090",
		"the network address the Prometheus /metrics endpoint binds to")
	set.BoolVar(&f.SourceWait, "waitForSources", false,
		"retry source adapter connections instead of failing immediately on startup")
	set.StringVar(&f.ShutdownGrace, "shutdownGrace", "10s",
		"how long to wait for in-flight refresh cycles to finish on shutdown")
	set.StringVar(&f.LogLevel, "logLevel", "info",
		"logrus level: trace, debug, info, warn, error")
}

// Preflight validates flags after parsing.
func (f *flags) Preflight() error {
	if f.PodPath == "" {
		return errors.New("pod path unset")
	}
	if f.BindAddr == "" {
		return errors.New("metricsAddr unset")
	}
	return nil
}
