package main

import (
	"context"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sanity-io/litter"

	"github.com/kopia/imageintact/apiclient"
	"github.com/kopia/imageintact/controlapi"
)

func (a *app) setupDebug(kp *kingpin.Application) {
	cmd := kp.Command("debug", "Dump a running session's full status and progress for troubleshooting.").Hidden()

	var addr string

	cmd.Arg("addr", "Control API address, e.g. 127.0.0.1:51823.").Required().StringVar(&addr)

	cmd.Action(func(*kingpin.ParseContext) error {
		return a.fail(a.runDebug(addr))
	})
}

func (a *app) runDebug(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := apiclient.New(apiclient.Options{BaseURL: "http://" + addr, LogRequests: true})

	var status controlapi.StatusResponse
	if err := client.Get(ctx, "/status", &status); err != nil {
		return err
	}

	var progress map[string]interface{}
	if err := client.Get(ctx, "/progress", &progress); err != nil {
		return err
	}

	litter.Config.HidePrivateFields = false

	a.printf("status:\n%s\n", litter.Sdump(status))
	a.printf("progress:\n%s\n", litter.Sdump(progress))

	return nil
}
