package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"resetwatch/core/appbootstrap"
)

// withTool runs fn against a tracker built without the HTTP surface.
func withTool(cmd *cobra.Command, ctx *Context, upstream bool, fn func(t *appbootstrap.Tool) (any, error)) error {
	if upstream {
		if err := ctx.Config.RequireUpstream(); err != nil {
			return err
		}
	}
	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(runCtx)
	tool, err := appbootstrap.NewTool(runCtx, ctx.Config, ctx.Logger)
	if err != nil {
		return err
	}
	defer tool.Close()
	out, err := fn(tool)
	if out != nil {
		if werr := printJSON(cmd.OutOrStdout(), out); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func indexCommand(ctx *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Walk the whole nation list once and seed the monitoring queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTool(cmd, ctx, true, func(t *appbootstrap.Tool) (any, error) {
				res, err := t.Engine.RunIndexing(cmd.Context())
				return res, err
			})
		},
	}
}

func checkCommand(ctx *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "check <nation-id>",
		Short: "Check one nation now and record a reset if one happened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid nation id %q", args[0])
			}
			return withTool(cmd, ctx, true, func(t *appbootstrap.Tool) (any, error) {
				res := t.Engine.CheckOne(cmd.Context(), id)
				if !res.Success {
					return res, fmt.Errorf("check failed: %s", res.Error)
				}
				return res, nil
			})
		},
	}
}

func statsCommand(ctx *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print tracker statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTool(cmd, ctx, false, func(t *appbootstrap.Tool) (any, error) {
				return t.Engine.GetStats(cmd.Context()), nil
			})
		},
	}
}

func reportCommand(ctx *Context) *cobra.Command {
	var group int64
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the reset report, optionally for one alliance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var groupID *int64
			if cmd.Flags().Changed("group") {
				groupID = &group
			}
			return withTool(cmd, ctx, false, func(t *appbootstrap.Tool) (any, error) {
				return t.Engine.GetResetReport(cmd.Context(), groupID), nil
			})
		},
	}
	cmd.Flags().Int64Var(&group, "group", 0, "alliance id")
	return cmd
}
