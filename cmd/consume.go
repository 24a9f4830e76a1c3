package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/ipmsg-go/ipmsg/core"
	"github.com/ipmsg-go/ipmsg/progress"
)

// consume renders core events until the channel closes. Incoming file
// offers are answered inline, either automatically or through a confirm
// prompt.
func consume(ctx context.Context, client *core.Client, events <-chan core.Event, autoAccept bool) {
	bars := progress.New()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			handle(client, bars, ev, autoAccept)
		}
	}
}

func handle(client *core.Client, bars *progress.Progress, ev core.Event, autoAccept bool) {
	switch ev := ev.(type) {
	case core.PeerOnline:
		fmt.Println(successStyle.Render(fmt.Sprintf("%s (%s) is online", ev.DisplayName, ev.Addr)))

	case core.PeerOffline:
		fmt.Println(infoStyle.Render(fmt.Sprintf("%s (%s) went offline: %s", ev.DisplayName, ev.Addr, ev.Reason)))

	case core.MessageReceived:
		fmt.Printf("%s %s\n", titleStyle.Render(ev.DisplayName+":"), ev.Content)

	case core.TransferRequest:
		if autoAccept || confirmOffer(ev) {
			if err := client.Accept(ev.TaskID); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
			return
		}
		if err := client.Reject(ev.TaskID); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
		}

	case core.TransferProgress:
		bars.Update(ev.TaskID, "transfer", ev.Transferred, ev.Total)

	case core.TransferCompleted:
		bars.Finish(ev.TaskID, true)
		fmt.Println(successStyle.Render(fmt.Sprintf("%s done (%d bytes, sha256 %s)", ev.FileName, ev.Size, ev.Checksum)))

	case core.TransferFailed:
		bars.Finish(ev.TaskID, false)
		fmt.Println(errorStyle.Render(fmt.Sprintf("transfer %s failed: %s", ev.TaskID, ev.Reason)))
	}
}

func confirmOffer(ev core.TransferRequest) bool {
	confirm := false

	title := fmt.Sprintf("Accept %s (%d bytes) from %s?", ev.FileName, ev.FileSize, ev.From)

	huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Run()

	return confirm
}
