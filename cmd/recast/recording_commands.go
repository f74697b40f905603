package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"recast/internal/api"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateRecordingRequest
	var pending bool

	cmd := &cobra.Command{
		Use:   "add <source-uri>",
		Short: "Register a recording with the daemon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.SourceURI = args[0]
			}
			if pending {
				req.SourceState = "pending"
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Create(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered recording #%d (%s)\n", resp.Recording.ID, resp.Recording.Status)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.Tenant, "tenant", "t", "", "Owning tenant (required)")
	flags.StringVar(&req.Title, "title", "", "Human-readable title")
	flags.BoolVar(&pending, "pending", false, "Source is not available yet; wait for source-ready")
	flags.BoolVar(&req.Settings.Trim, "trim", false, "Trim the media before later stages")
	flags.Float64Var(&req.Settings.TrimStartSeconds, "trim-start", 0, "Seconds to cut from the start")
	flags.Float64Var(&req.Settings.TrimEndSeconds, "trim-end", 0, "Seconds to cut from the end")
	flags.BoolVar(&req.Settings.Transcribe, "transcribe", false, "Produce a transcript")
	flags.BoolVar(&req.Settings.ExtractTopics, "topics", false, "Extract topics from the transcript")
	flags.BoolVar(&req.Settings.Subtitles, "subtitles", false, "Generate subtitles from the transcript")
	flags.StringVar(&req.Settings.Granularity, "granularity", "", "Topic granularity (short or long)")
	flags.StringVar(&req.Settings.Language, "language", "", "Transcription language")
	flags.StringSliceVarP(&req.Settings.Destinations, "destination", "d", nil, "Publish destination (repeatable)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var opts api.ListOptions

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			for i, s := range opts.Statuses {
				opts.Statuses[i] = strings.ToUpper(strings.TrimSpace(s))
			}
			return ctx.withClient(func(client *api.Client) error {
				recs, err := client.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, recs)
				}
				out := cmd.OutOrStdout()
				renderRecordingList(out, recs, shouldColorize(out))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Tenant, "tenant", "t", "", "Only recordings of this tenant")
	cmd.Flags().StringSliceVarP(&opts.Statuses, "status", "s", nil, "Filter by status (repeatable)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recording with its targets and stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRecordingID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				renderRecordingDetail(out, resp, shouldColorize(out))
				return nil
			})
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Dispatch the next stage of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runAction(cmd, args[0], func(c context.Context, client *api.Client, id int64) (api.RunResponse, error) {
				return client.Run(c, id)
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed recording at its failed stage, or one failed target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runAction(cmd, args[0], func(c context.Context, client *api.Client, id int64) (api.RunResponse, error) {
				if platform := strings.TrimSpace(target); platform != "" {
					return client.RetryTarget(c, id, strings.ToLower(platform))
				}
				return client.Retry(c, id)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Retry only this destination platform")
	return cmd
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Stop a recording's chain after the running stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.recordingAction(cmd, args[0], "Paused", func(c context.Context, client *api.Client, id int64) (api.RecordingResponse, error) {
				return client.Pause(c, id)
			})
		},
	}
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Start a fresh generation for a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.recordingAction(cmd, args[0], "Reset", func(c context.Context, client *api.Client, id int64) (api.RecordingResponse, error) {
				return client.Reset(c, id)
			})
		},
	}
}

func newSourceReadyCommand(ctx *commandContext) *cobra.Command {
	var blank bool

	cmd := &cobra.Command{
		Use:   "source-ready <id>",
		Short: "Mark a pending source as available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.recordingAction(cmd, args[0], "Source resolved for", func(c context.Context, client *api.Client, id int64) (api.RecordingResponse, error) {
				return client.SourceReady(c, id, blank)
			})
		},
	}
	cmd.Flags().BoolVar(&blank, "blank", false, "The source turned out empty; skip the recording")
	return cmd
}

func (c *commandContext) runAction(cmd *cobra.Command, rawID string, fn func(context.Context, *api.Client, int64) (api.RunResponse, error)) error {
	id, err := parseRecordingID(rawID)
	if err != nil {
		return err
	}
	return c.withClient(func(client *api.Client) error {
		resp, err := fn(cmd.Context(), client, id)
		if err != nil {
			return err
		}
		if c.jsonOutput() {
			return writeJSON(cmd, resp)
		}
		out := cmd.OutOrStdout()
		if resp.AlreadyComplete || resp.Run == nil {
			fmt.Fprintf(out, "Recording #%d is already complete\n", id)
			return nil
		}
		fmt.Fprintf(out, "Dispatched %s for recording #%d (attempt %d)\n", stageLabel(resp.Run.Stage), id, resp.Run.Attempt)
		return nil
	})
}

func (c *commandContext) recordingAction(cmd *cobra.Command, rawID, verb string, fn func(context.Context, *api.Client, int64) (api.RecordingResponse, error)) error {
	id, err := parseRecordingID(rawID)
	if err != nil {
		return err
	}
	return c.withClient(func(client *api.Client) error {
		resp, err := fn(cmd.Context(), client, id)
		if err != nil {
			return err
		}
		if c.jsonOutput() {
			return writeJSON(cmd, resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s recording #%d (%s)\n", verb, id, resp.Recording.Status)
		return nil
	})
}
