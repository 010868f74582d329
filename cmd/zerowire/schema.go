package main

import (
	"fmt"
	"os"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/prototext"
)

func newSchemaCommand() *cobra.Command {
	var (
		input       string
		messageName string
		maxFields   int
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the protobuf descriptor derived from an Arrow IPC stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := wireSchemaOf(input, schema.MapperConfig{MessageName: messageName, MaxFields: maxFields})
			if err != nil {
				return err
			}
			out, err := prototext.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(ws.File)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %d fields\n%s", ws.FieldCount, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Path to Arrow IPC stream file (required)")
	cmd.Flags().StringVar(&messageName, "message-name", schema.DefaultMessageName, "Name of the top level message")
	cmd.Flags().IntVar(&maxFields, "max-fields", schema.DefaultMaxFields, "Maximum number of flattened fields")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// wireSchemaOf maps the schema of the Arrow IPC stream at path.
func wireSchemaOf(path string, cfg schema.MapperConfig) (*schema.WireSchema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr, err := ipc.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read Arrow IPC stream %s: %w", path, err)
	}
	defer rdr.Release()

	s, err := batch.SchemaFromArrow(rdr.Schema())
	if err != nil {
		return nil, err
	}
	return schema.NewMapper(cfg).Map(s)
}
