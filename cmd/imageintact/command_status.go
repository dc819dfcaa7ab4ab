package main

import (
	"context"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sanity-io/litter"

	"github.com/kopia/imageintact/apiclient"
	"github.com/kopia/imageintact/controlapi"
)

func (a *app) setupStatus(kp *kingpin.Application) {
	cmd := kp.Command("status", "Query a running session's status over its control API.")

	var (
		addr    string
		verbose bool
	)

	cmd.Arg("addr", "Control API address, e.g. 127.0.0.1:51823.").Required().StringVar(&addr)
	cmd.Flag("verbose", "Print the full progress snapshot instead of just the summary line.").BoolVar(&verbose)

	cmd.Action(func(*kingpin.ParseContext) error {
		return a.fail(a.runStatus(addr, verbose))
	})
}

func (a *app) runStatus(addr string, verbose bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := apiclient.New(apiclient.Options{BaseURL: "http://" + addr})

	var status controlapi.StatusResponse
	if err := client.Get(ctx, "/status", &status); err != nil {
		return err
	}

	a.printf("%s (%s): %s, phase=%s, elapsed=%s\n", status.Nickname, status.SessionID, status.Status, status.Phase, status.Elapsed)

	if !verbose {
		return nil
	}

	var progress map[string]interface{}
	if err := client.Get(ctx, "/progress", &progress); err != nil {
		return err
	}

	a.printf("%s\n", litter.Sdump(progress))

	return nil
}
