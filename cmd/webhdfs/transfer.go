package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nucleus/webhdfs/pkg/webhdfs"
)

var putOverwrite bool

func putCmdInitFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&putOverwrite, "overwrite", "o", false, "Replace the remote file if it exists")
}

// Validate the arguments
func putCmdPreRunE(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return errors.New("invalid command syntax")
	}
	if fi, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("error stating local file: %v", err)
	} else if fi.IsDir() {
		return errors.New("local file cannot be a directory")
	}
	return nil
}

func doPut(ctx context.Context, client *webhdfs.Client, local, remote string, overwrite bool, out io.Writer) error {
	resp, err := client.Create(ctx, local, remote, overwrite)
	if err != nil {
		return err
	}
	defer resp.Close()

	fmt.Fprintf(out, "%s -> %s (HTTP %d)\n", local, remote, resp.StatusCode)
	return nil
}

func doGet(ctx context.Context, client *webhdfs.Client, remote, local string, stdout io.Writer) error {
	if local == "-" {
		_, err := client.OpenTo(ctx, remote, stdout)
		return err
	}

	f, err := os.Create(local)
	if err != nil {
		return err
	}

	n, err := client.OpenTo(ctx, remote, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(local)
		return err
	}
	log.WithFields(log.Fields{"remote": remote, "local": local, "bytes": n}).Info("download complete")
	return nil
}

func putCmdRun(cmd *cobra.Command, args []string) {
	client, err := newClient()
	if err != nil {
		fatalError(err)
	}
	if err := doPut(cmd.Context(), client, args[0], args[1], putOverwrite, cmd.OutOrStdout()); err != nil {
		fatalError(err)
	}
}

func getCmdRun(cmd *cobra.Command, args []string) {
	client, err := newClient()
	if err != nil {
		fatalError(err)
	}
	if err := doGet(cmd.Context(), client, args[0], args[1], cmd.OutOrStdout()); err != nil {
		fatalError(err)
	}
}
