package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/capsules-dev/capsules/internal/db"
	"github.com/capsules-dev/capsules/internal/entity"
	"github.com/capsules-dev/capsules/internal/errors"
	"github.com/capsules-dev/capsules/internal/lifecycle"
	"github.com/capsules-dev/capsules/internal/mcp"
	"github.com/capsules-dev/capsules/internal/overlay"
	"github.com/capsules-dev/capsules/internal/registry"
)

// newCLIApp creates the CLI application with all commands. e may be nil when
// only help or version output is needed.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "capsules",
		Usage:   "Disposable desktop environments from reusable templates",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: formatTable, Usage: "Output format: table|json|yaml"},
		},
		Before: func(c *cli.Context) error {
			switch c.String("output") {
			case formatTable, formatJSON, formatYAML:
				return nil
			}
			return outputError(errors.NewInvalidRequest(fmt.Sprintf("unknown output format %q (want table, json, or yaml)", c.String("output"))))
		},
		Commands: []*cli.Command{
			baseImageCmd(e),
			templateCmd(e),
			capsuleCmd(e),
			historyCmd(e),
			doctorCmd(e),
			mcpCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// nameFlag filters list output to one entity.
var nameFlag = &cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Filter by name"}

// baseImageCmd creates the baseimage command group.
func baseImageCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "baseimage",
		Usage: "Base image operations",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List base images",
				Flags: []cli.Flag{nameFlag},
				Action: func(c *cli.Context) error {
					images, err := e.registry.BaseImages()
					if err != nil {
						return outputError(err)
					}
					images, err = filterByName(images, c.String("name"), "base image", func(b registry.BaseImage) string { return b.Name })
					if err != nil {
						return outputError(err)
					}
					return render(c, images, func() table {
						t := table{headers: []string{"NAME", "DESCRIPTION"}, status: -1}
						for _, b := range images {
							t.rows = append(t.rows, []string{b.Name, b.Description})
						}
						return t
					})
				},
			},
		},
	}
}

// templateCmd creates the template command group.
func templateCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "template",
		Usage: "Template operations",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List templates",
				Flags: []cli.Flag{nameFlag},
				Action: func(c *cli.Context) error {
					templates, err := e.registry.Templates(c.Context)
					if err != nil {
						return outputError(err)
					}
					templates, err = filterByName(templates, c.String("name"), "template", func(t entity.Template) string { return t.Name })
					if err != nil {
						return outputError(err)
					}
					return render(c, templates, func() table {
						t := table{headers: []string{"NAME", "BASE IMAGE", "NETWORK", "STATUS", "STATE"}, status: 3}
						for _, tm := range templates {
							t.rows = append(t.rows, []string{tm.Name, tm.BaseImage, network(tm.NetworkEnabled), string(tm.Status), string(tm.State)})
						}
						return t
					})
				},
			},
			{
				Name:      "add",
				Usage:     "Build a base image and create a template from it",
				ArgsUsage: "<name> <baseimage>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "network-disabled", Usage: "Create without network access"},
				},
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2); err != nil {
						return err
					}
					return runRequest(c, e, lifecycle.CreateTemplate{
						Name:           c.Args().Get(0),
						BaseImage:      c.Args().Get(1),
						NetworkEnabled: !c.Bool("network-disabled"),
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a template with no dependent capsules",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					return runRequest(c, e, lifecycle.DeleteTemplate{Name: c.Args().First()})
				},
			},
			startCmd(e), stopCmd(e), restartCmd(e),
			executeCmd(e),
			terminalCmd(e),
			sharedCmd(e, entity.KindTemplate),
		},
	}
}

// capsuleCmd creates the capsule command group.
func capsuleCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "capsule",
		Usage: "Capsule operations",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List capsules",
				Flags: []cli.Flag{nameFlag},
				Action: func(c *cli.Context) error {
					capsules, err := e.registry.Capsules(c.Context)
					if err != nil {
						return outputError(err)
					}
					capsules, err = filterByName(capsules, c.String("name"), "capsule", func(cp entity.Capsule) string { return cp.Name })
					if err != nil {
						return outputError(err)
					}
					return render(c, capsules, func() table {
						t := table{headers: []string{"NAME", "TEMPLATE", "NETWORK", "PORTS", "STATUS", "DISPLAY", "STATE"}, status: 4}
						for _, cp := range capsules {
							ports := make([]string, len(cp.Ports))
							for i, p := range cp.Ports {
								ports[i] = p.String()
							}
							display := "-"
							if cp.DisplayAttached {
								display = "attached"
							}
							t.rows = append(t.rows, []string{
								cp.Name, cp.TemplateName, network(cp.NetworkEnabled), strings.Join(ports, ","),
								string(cp.Status), display, string(cp.State),
							})
						}
						return t
					})
				},
			},
			{
				Name:      "add",
				Usage:     "Create a capsule from a template",
				ArgsUsage: "<name> <template> [host:container[/tcp|udp]...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "network-disabled", Usage: "Create without network access (ports are ignored)"},
				},
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2); err != nil {
						return err
					}
					args := c.Args().Slice()
					return runRequest(c, e, lifecycle.CreateCapsule{
						Name:           args[0],
						Template:       args[1],
						NetworkEnabled: !c.Bool("network-disabled"),
						Ports:          args[2:],
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a capsule and its overlays",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					return runRequest(c, e, lifecycle.DeleteCapsule{Name: c.Args().First()})
				},
			},
			startCmd(e), stopCmd(e), restartCmd(e),
			executeCmd(e),
			{
				Name:      "attach",
				Usage:     "Open the capsule's display",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					return runRequest(c, e, lifecycle.Attach{Name: c.Args().First()})
				},
			},
			{
				Name:      "detach",
				Usage:     "Close the capsule's display",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					return runRequest(c, e, lifecycle.Detach{Name: c.Args().First()})
				},
			},
			{
				Name:      "diff",
				Usage:     "List files changed relative to the template",
				ArgsUsage: "<name>",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					changes, err := e.orch.Diff(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					if changes == nil {
						changes = []overlay.Change{}
					}
					return render(c, changes, func() table {
						t := table{headers: []string{"CHANGE", "PATH"}, status: -1}
						for _, ch := range changes {
							t.rows = append(t.rows, []string{string(ch.Kind), ch.Path})
						}
						return t
					})
				},
			},
			terminalCmd(e),
			sharedCmd(e, entity.KindCapsule),
		},
	}
}

func startCmd(e *env) *cli.Command {
	return passThroughCmd(e, "start", "Start", func(n string) lifecycle.Request { return lifecycle.Start{Name: n} })
}

func stopCmd(e *env) *cli.Command {
	return passThroughCmd(e, "stop", "Stop", func(n string) lifecycle.Request { return lifecycle.Stop{Name: n} })
}

func restartCmd(e *env) *cli.Command {
	return passThroughCmd(e, "restart", "Restart", func(n string) lifecycle.Request { return lifecycle.Restart{Name: n} })
}

func passThroughCmd(e *env, name, verb string, build func(string) lifecycle.Request) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     verb + " the runtime resource",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			return runRequest(c, e, build(c.Args().First()))
		},
	}
}

// executeCmd runs a command inside a template or capsule without waiting.
func executeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:            "execute",
		Usage:           "Run a command inside without waiting for it",
		ArgsUsage:       "<name> <command> [args...]",
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			args := c.Args().Slice()
			if err := e.orch.Exec(args[0], args[1:]); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// terminalCmd opens an interactive shell in a terminal emulator.
func terminalCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "terminal",
		Usage:     "Open a shell in a terminal window",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			if err := e.terminal.OpenShell(c.Args().First()); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// sharedCmd opens the shared directory in the file manager.
func sharedCmd(e *env, kind entity.Kind) *cli.Command {
	return &cli.Command{
		Name:      "shared",
		Usage:     "Open the shared directory in the file manager",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			if err := e.terminal.OpenShared(kind, c.Args().First()); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// historyCmd lists journaled operations.
func historyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recent operations",
		Flags: []cli.Flag{
			nameFlag,
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum entries"},
		},
		Action: func(c *cli.Context) error {
			runs, err := db.ListRuns(e.db, c.String("name"), c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			if runs == nil {
				runs = []db.Run{}
			}
			return render(c, runs, func() table {
				t := table{headers: []string{"ID", "OP", "TARGET", "STATUS", "STARTED", "ERROR"}, status: 3}
				for _, r := range runs {
					errText := ""
					if r.ErrorCode != nil {
						errText = "[" + *r.ErrorCode + "]"
						if r.ErrorMessage != nil {
							errText += " " + *r.ErrorMessage
						}
					}
					started := time.Unix(r.StartedAt, 0).Format(time.DateTime)
					t.rows = append(t.rows, []string{r.ID, r.Op, r.Target, r.Status, started, errText})
				}
				return t
			})
		},
	}
}

// mcpCmd runs the MCP server on stdio.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the capsule tools over MCP on stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(e.mcpDeps(), e.cfg, Version)
		},
	}
}

// runRequest runs r on the executor, waits for it, and reports the result.
func runRequest(c *cli.Context, e *env, r lifecycle.Request) error {
	res, err := e.control.Do(c.Context, r)
	if err != nil {
		return outputError(err)
	}
	if !res.Success {
		return outputError(res.Err())
	}
	return render(c, res, func() table {
		return table{headers: []string{"OPERATION", "RESULT"}, rows: [][]string{{lifecycle.Describe(r), "ok"}}, status: -1}
	})
}

// requireArgs fails with usage help unless at least n positional args are given.
func requireArgs(c *cli.Context, n int) error {
	if c.NArg() >= n {
		return nil
	}
	usage := c.Command.ArgsUsage
	return outputError(errors.NewInvalidRequest(fmt.Sprintf("usage: %s %s", c.Command.HelpName, usage)))
}

// filterByName keeps the items named name, or all items when name is empty.
func filterByName[T any](items []T, name, kind string, nameOf func(T) string) ([]T, error) {
	if name == "" {
		if items == nil {
			return []T{}, nil
		}
		return items, nil
	}
	var out []T
	for _, it := range items {
		if nameOf(it) == name {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return nil, errors.NewNotFound(kind, name)
	}
	return out, nil
}

func network(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
