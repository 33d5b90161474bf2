package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/nucleus/webhdfs/pkg/webhdfs"
)

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func doStat(ctx context.Context, client *webhdfs.Client, remote string, out io.Writer) error {
	status, err := client.GetFileStatus(ctx, remote)
	if err != nil {
		return err
	}
	return printJSON(out, status)
}

func doList(ctx context.Context, client *webhdfs.Client, remote string, out io.Writer) error {
	entries, err := client.ListDirectory(ctx, remote)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []webhdfs.FileStatus{}
	}
	return printJSON(out, entries)
}

func doSummary(ctx context.Context, client *webhdfs.Client, remote string, out io.Writer) error {
	summary, err := client.GetContentSummary(ctx, remote)
	if err != nil {
		return err
	}
	return printJSON(out, summary)
}

func metaRun(do func(context.Context, *webhdfs.Client, string, io.Writer) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		client, err := newClient()
		if err != nil {
			fatalError(err)
		}
		if err := do(cmd.Context(), client, args[0], cmd.OutOrStdout()); err != nil {
			fatalError(err)
		}
	}
}

var (
	statCmdRun = metaRun(doStat)
	lsCmdRun   = metaRun(doList)
	duCmdRun   = metaRun(doSummary)
)
