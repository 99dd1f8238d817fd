package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"docsync/api/internal/crdt"
	"docsync/api/internal/richtext"
	"docsync/api/internal/util"
)

func convertCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Seed a document from description HTML and print the result",
		Long: "Seeds a scratch document the way a load event does, then renders it\n" +
			"back to HTML. Reads stdin when no file is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			src, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			doc := crdt.NewDoc(util.NewClientID())
			res := richtext.Seed(doc, string(src))
			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "mode: %s\n", res.Mode)
			if res.Err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "fallback: %v\n", res.Err)
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(richtext.FromDoc(doc))
			}
			_, err = io.WriteString(out, richtext.DocHTML(doc))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the document tree instead of HTML")
	return cmd
}
