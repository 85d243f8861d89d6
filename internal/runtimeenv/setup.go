// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtimeenv adapts the full-runtime host's process bootstrap:
// dropping root privileges once a privileged port is bound, and
// notifying systemd of readiness. Adapted verbatim in spirit from the
// teacher's pkg/runtimeEnv/setup.go (only the log import changed).
package runtimeenv

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/signalk-go/signalk-server/pkg/log"
)

// DropPrivileges changes the process's user and group to those named,
// once a privileged listening port has already been bound. The Go
// runtime applies the underlying syscall to every OS thread, not just
// the calling one.
func DropPrivileges(username string, group string) error {
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			log.Warn("runtimeenv: error looking up group")
			return err
		}

		gid, _ := strconv.Atoi(g.Gid)
		if err := syscall.Setgid(gid); err != nil {
			log.Warn("runtimeenv: error setting gid")
			return err
		}
	}

	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			log.Warn("runtimeenv: error looking up user")
			return err
		}

		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			log.Warn("runtimeenv: error setting uid")
			return err
		}
	}

	return nil
}

// SystemdNotify informs systemd of readiness/status, a no-op when the
// process was not started under systemd.
// https://www.freedesktop.org/software/systemd/man/sd_notify.html
func SystemdNotify(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}
	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	cmd := exec.Command("systemd-notify", args...)
	cmd.Run() //nolint:errcheck // nothing actionable if systemd-notify itself is missing
}
