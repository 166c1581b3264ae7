// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the mydia binaries.
package version

// version is overridden at build time:
//
//	go build -ldflags "-X github.com/mydia-project/mydia/lib/version.version=v1.4.0"
var version = "dev"

// Info returns the version string for --version output and startup logs.
func Info() string { return version }
