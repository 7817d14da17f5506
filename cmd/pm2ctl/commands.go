package main

import (
	"context"
	"fmt"

	"github.com/loykin/pm2ctl"
	"github.com/spf13/cobra"
)

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// CreateFlags holds flags for the create command.
type CreateFlags struct {
	Name        string
	Script      string
	Interpreter string
	Args        []string
	Env         []string
	Cwd         string
	Instances   int
	AutoRestart bool
	MaxMemory   string
}

// LogFlags holds flags for the logs command.
type LogFlags struct {
	Lines int
}

func buildRoot() *cobra.Command {
	var gf GlobalFlags

	root := &cobra.Command{
		Use:           "pm2ctl",
		Short:         "Control plane for a pm2-managed process fleet",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "", "path to pm2ctl TOML config")

	root.AddCommand(
		newServeCmd(&gf),
		newVersionCmd(&gf),
		newListCmd(&gf),
		newGetCmd(&gf),
		newCreateCmd(&gf),
		newDeleteCmd(&gf),
		newLifecycleCmd(&gf, "start", "Start a stopped process"),
		newLifecycleCmd(&gf, "stop", "Stop a running process"),
		newLifecycleCmd(&gf, "restart", "Restart a process"),
		newLogsCmd(&gf),
		newFlushCmd(&gf),
	)
	return root
}

// newController builds a Controller from --config, falling back to
// defaults when no config file is given.
func newController(gf *GlobalFlags) (*pm2ctl.Controller, error) {
	cfg := pm2ctl.DefaultConfig()
	if gf.ConfigPath != "" {
		loaded, err := pm2ctl.LoadConfig(gf.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	return pm2ctl.New(cfg)
}

func withController(gf *GlobalFlags, fn func(ctx context.Context, c *pm2ctl.Controller) error) error {
	c, err := newController(gf)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(context.Background(), c)
}

func newVersionCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Check pm2 reachability and print its version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				v, err := c.Verify(ctx)
				if err != nil {
					return err
				}
				fmt.Println(v)
				return nil
			})
		},
	}
}

func newListCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all pm2 processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				records, err := c.List(ctx)
				if err != nil {
					return err
				}
				printJSON(records)
				return nil
			})
		},
	}
}

func newGetCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Show a single process record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				rec, err := c.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printJSON(rec)
				return nil
			})
		},
	}
}

func newCreateCmd(gf *GlobalFlags) *cobra.Command {
	var f CreateFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register and launch a new process",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvPairs(f.Env)
			if err != nil {
				return err
			}
			req := pm2ctl.ProcessRequest{
				Name:        f.Name,
				Script:      f.Script,
				Interpreter: f.Interpreter,
				Args:        f.Args,
				Env:         env,
				Cwd:         f.Cwd,
				Instances:   f.Instances,
				AutoRestart: f.AutoRestart,
				MaxMemory:   f.MaxMemory,
			}
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				rec, err := c.Create(ctx, req)
				if err != nil {
					return err
				}
				printJSON(rec)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&f.Script, "script", "", "script path (required)")
	cmd.Flags().StringVar(&f.Interpreter, "interpreter", "", "interpreter override")
	cmd.Flags().StringArrayVar(&f.Args, "arg", nil, "script argument (repeatable)")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "KEY=VALUE environment entry (repeatable)")
	cmd.Flags().StringVar(&f.Cwd, "cwd", "", "working directory")
	cmd.Flags().IntVar(&f.Instances, "instances", 1, "number of instances")
	cmd.Flags().BoolVar(&f.AutoRestart, "autorestart", false, "restart on exit")
	cmd.Flags().StringVar(&f.MaxMemory, "max-memory", "", "memory limit triggering restart, e.g. 300M")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func newDeleteCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Stop and remove a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				if err := c.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func newLifecycleCmd(gf *GlobalFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				var (
					rec pm2ctl.Record
					err error
				)
				switch verb {
				case "start":
					rec, err = c.Start(ctx, args[0])
				case "stop":
					rec, err = c.Stop(ctx, args[0])
				default:
					rec, err = c.Restart(ctx, args[0])
				}
				if err != nil {
					return err
				}
				printJSON(rec)
				return nil
			})
		},
	}
}

func newLogsCmd(gf *GlobalFlags) *cobra.Command {
	var f LogFlags
	cmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Tail recent log lines of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				ex, err := c.TailLogs(ctx, args[0], f.Lines)
				if err != nil {
					return err
				}
				for _, line := range ex.Lines {
					fmt.Println(line)
				}
				if ex.Truncated {
					fmt.Fprintln(cmd.ErrOrStderr(), "(output truncated)")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Lines, "lines", 0, "number of lines to show")
	return cmd
}

func newFlushCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush NAME",
		Short: "Truncate the log streams of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(gf, func(ctx context.Context, c *pm2ctl.Controller) error {
				if err := c.ClearLogs(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("flushed logs for %s\n", args[0])
				return nil
			})
		},
	}
}
