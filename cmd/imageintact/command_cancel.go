package main

import (
	"context"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kopia/imageintact/apiclient"
)

func (a *app) setupCancel(kp *kingpin.Application) {
	cmd := kp.Command("cancel", "Cancel a running session over its control API.")

	var (
		addr  string
		token string
	)

	cmd.Arg("addr", "Control API address, e.g. 127.0.0.1:51823.").Required().StringVar(&addr)
	cmd.Arg("token", "The cancel token printed when the session started.").Required().StringVar(&token)

	cmd.Action(func(*kingpin.ParseContext) error {
		return a.fail(a.runCancel(addr, token))
	})
}

func (a *app) runCancel(addr, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := apiclient.New(apiclient.Options{BaseURL: "http://" + addr, BearerToken: token})

	if err := client.Post(ctx, "/cancel", nil); err != nil {
		return err
	}

	a.printf("cancel request accepted\n")

	return nil
}
