package main

import (
	"context"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
)

type askOptions struct {
	actor      int
	session    string
	asJSON     bool
	showEvents bool
	async      bool
}

func newAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Process a query and print the response",
		Long: `Process a query through classification, planning, execution and synthesis.

Requests with --actor load and save conversation summaries in the memory
store; anonymous requests skip memory.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, root, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().IntVar(&opts.actor, "actor", 0, "Actor ID for memory; 0 is anonymous")
	cmd.Flags().StringVar(&opts.session, "session", "", "Session ID (default: a new ID)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the response as JSON")
	cmd.Flags().BoolVar(&opts.showEvents, "events", false, "Print lifecycle events to stderr")
	cmd.Flags().BoolVar(&opts.async, "async", false, "Submit the request in the background and wait for it")
	return cmd
}

func runAsk(cmd *cobra.Command, root *rootOptions, opts *askOptions, query string) error {
	a, err := root.wire(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.showEvents {
		errOut := cmd.ErrOrStderr()
		if _, err := a.bus.SubscribeAll(func(ctx context.Context, evt eventbus.Event) error {
			renderEvent(errOut, evt)
			return nil
		}); err != nil {
			return err
		}
	}

	req := dragonscale.Request{Query: query, SessionID: opts.session}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}
	if opts.actor > 0 {
		actor := opts.actor
		req.ActorID = &actor
	}

	var (
		resp    *dragonscale.FinalResponse
		procErr error
	)
	if opts.async {
		id, err := a.engine.ProcessAsync(cmd.Context(), req)
		if err != nil {
			return err
		}
		color.New(color.Faint).Fprintf(cmd.ErrOrStderr(), "execution %s submitted\n", id)
		resp, procErr = a.engine.WaitAsync(cmd.Context(), id)
		if resp == nil {
			if cancelled, _ := a.engine.CancelAsyncProcess(id); cancelled {
				resp, procErr = a.engine.WaitAsync(context.Background(), id)
			}
		}
	} else {
		resp, procErr = a.engine.ProcessRequest(cmd.Context(), req)
	}
	if resp == nil {
		return procErr
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		if err := renderJSON(out, resp); err != nil {
			return err
		}
	} else {
		renderResponse(out, resp)
	}
	return procErr
}
