package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BaSui01/crewflow/workflow/dsl"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var (
		file   string
		inputs []string
	)
	cmd := &cobra.Command{
		Use:     "validate",
		Short:   "校验 YAML 文档, 不执行",
		Example: `  crewflow validate --file flow.yaml --input topic=Go`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vars, err := parsePairs(inputs)
			if err != nil {
				return fmt.Errorf("--input: %w", err)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read DSL file: %w", err)
			}
			doc, err := dsl.Decode(data)
			if err != nil {
				return err
			}

			errs := dsl.NewValidator(vars).Validate(doc)
			out := cmd.OutOrStdout()
			if len(errs) == 0 {
				fmt.Fprintf(out, "%s: ok (%d agents, %d tasks, %d crews, %d flows)\n",
					file, len(doc.Agents), len(doc.Tasks), len(doc.Crews), len(doc.Flows))
				return nil
			}
			for _, e := range errs {
				fmt.Fprintf(out, "%s: %s\n", file, e)
			}
			return errors.New("validation failed")
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML 文档路径")
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "输入变量 key=value, 可重复")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
