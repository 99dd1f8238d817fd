package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docsync/api/internal/docname"
)

type parseOutput struct {
	Name     string            `json:"name"`
	Valid    bool              `json:"valid"`
	Identity *docname.Identity `json:"identity,omitempty"`
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <name>...",
		Short: "Decode document names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			invalid := 0
			for _, name := range args {
				out := parseOutput{Name: name}
				if id, ok := docname.Parse(name); ok {
					out.Valid = true
					out.Identity = &id
				} else {
					invalid++
				}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d names invalid", invalid, len(args))
			}
			return nil
		},
	}
}
