package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dreamlab-ai/nostr-relay/nostr"

	"github.com/urfave/cli/v2"
)

var cmdKeygen = &cli.Command{
	Name:  "keygen",
	Usage: "generate a new secret key and print it with its public key",
	Action: func(cctx *cli.Context) error {
		k, err := nostr.GeneratePrivateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "secret: %s\npubkey: %s\n", k.Hex(), k.PublicKeyHex())
		return nil
	},
}

var cmdSign = &cli.Command{
	Name:      "sign",
	Usage:     "sign an event read as JSON from stdin, and print the signed event",
	ArgsUsage: "< event.json",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "secret-key",
			Usage:    "hex secret key to sign with",
			Required: true,
			EnvVars:  []string{"NOSTR_SECRET_KEY"},
		},
	},
	Action: func(cctx *cli.Context) error {
		k, err := nostr.ParsePrivateKeyHex(cctx.String("secret-key"))
		if err != nil {
			return fmt.Errorf("invalid secret key: %w", err)
		}

		evt, err := signEvent(cctx.App.Reader, k, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cctx.App.Writer, string(evt.JSON()))
		return nil
	},
}

// signEvent reads an unsigned event (kind, tags, content, and optionally created_at) and
// signs it. A missing created_at is set to now.
func signEvent(r io.Reader, k *nostr.PrivateKey, now time.Time) (*nostr.Event, error) {
	var evt nostr.Event
	if err := json.NewDecoder(r).Decode(&evt); err != nil {
		return nil, fmt.Errorf("parsing event: %w", err)
	}
	if evt.CreatedAt == 0 {
		evt.CreatedAt = now.Unix()
	}
	if err := k.SignEvent(&evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
