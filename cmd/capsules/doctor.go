package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/capsules-dev/capsules/internal/db"
)

// check is one doctor probe result.
type check struct {
	Name   string `json:"name" yaml:"name"`
	OK     bool   `json:"ok" yaml:"ok"`
	Detail string `json:"detail" yaml:"detail"`
}

// doctorCmd verifies the host tools and storage the other commands rely on.
func doctorCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check the container runtime, display tool, and storage",
		Action: func(c *cli.Context) error {
			checks := runChecks(c, e)
			failed := 0
			for _, ch := range checks {
				if !ch.OK {
					failed++
				}
			}
			if err := render(c, checks, func() table {
				t := table{headers: []string{"CHECK", "STATUS", "DETAIL"}, status: 1}
				for _, ch := range checks {
					status := "ok"
					if !ch.OK {
						status = "failed"
					}
					t.rows = append(t.rows, []string{ch.Name, status, ch.Detail})
				}
				return t
			}); err != nil {
				return err
			}
			if failed > 0 {
				return cli.Exit(fmt.Sprintf("%d check(s) failed", failed), 1)
			}
			return nil
		},
	}
}

func runChecks(c *cli.Context, e *env) []check {
	ctx := c.Context
	var checks []check

	if v, err := e.runtime.Version(ctx); err != nil {
		checks = append(checks, check{Name: "runtime", Detail: err.Error()})
	} else {
		checks = append(checks, check{Name: "runtime", OK: true, Detail: e.runtime.Binary() + " " + v})
	}

	if rootless, err := e.runtime.Rootless(ctx); err != nil {
		checks = append(checks, check{Name: "rootless", Detail: err.Error()})
	} else if !rootless {
		checks = append(checks, check{Name: "rootless", Detail: "runtime is running as root; capsules expects rootless mode"})
	} else {
		checks = append(checks, check{Name: "rootless", OK: true, Detail: "rootless"})
	}

	if err := e.display.CheckVersion(ctx); err != nil {
		checks = append(checks, check{Name: "display", Detail: err.Error()})
	} else {
		v, _ := e.display.Version(ctx)
		checks = append(checks, check{Name: "display", OK: true, Detail: v})
	}

	if term, err := e.terminal.Find(); err != nil {
		checks = append(checks, check{Name: "terminal", Detail: err.Error()})
	} else {
		checks = append(checks, check{Name: "terminal", OK: true, Detail: term})
	}

	if images, err := e.registry.BaseImages(); err != nil {
		checks = append(checks, check{Name: "base_images", Detail: err.Error()})
	} else if len(images) == 0 {
		checks = append(checks, check{Name: "base_images", Detail: "no base images in " + e.cfg.BaseImagesPath(e.baseDir)})
	} else {
		checks = append(checks, check{Name: "base_images", OK: true, Detail: strconv.Itoa(len(images)) + " available"})
	}

	if v, err := db.GetUserVersion(e.db); err != nil {
		checks = append(checks, check{Name: "journal", Detail: err.Error()})
	} else {
		checks = append(checks, check{Name: "journal", OK: true, Detail: "schema v" + strconv.Itoa(v)})
	}

	return checks
}
