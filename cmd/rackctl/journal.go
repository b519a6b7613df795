// cmd/rackctl/journal.go
package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/journal"
)

func journalCmd() *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "journal PATH",
		Short: "Print the command journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := journal.NewReader(args[0], journal.Filter{FailedOnly: failed})
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			for {
				rec, err := r.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s %d/%d fn=% x %s %s queued=%s elapsed=%s",
					rec.Time.Format("2006-01-02T15:04:05.000"), rec.Channel, rec.Type, rec.Address,
					rec.Functions, rec.State, codec.CompletionCode(rec.Code), rec.Queued, rec.Elapsed)
				if rec.Error != "" {
					fmt.Fprintf(out, " err=%q", rec.Error)
				}
				fmt.Fprintln(out)
			}
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "only failed commands")
	return cmd
}
