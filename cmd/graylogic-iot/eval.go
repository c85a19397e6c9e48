package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/rules"
)

func newEvalCmd() *cobra.Command {
	var truthy bool

	cmd := &cobra.Command{
		Use:   "eval <expression> [data]",
		Short: "Evaluate a rule expression against JSON data",
		Example: `  graylogic-iot eval '{">": [{"var": "payload.temperature"}, 25]}' '{"payload": {"temperature": 30}}'
  graylogic-iot eval --truthy '{"var": "on"}' '{"on": 1}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := rules.Parse([]byte(args[0]))
			if err != nil {
				return err
			}

			var data any = map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
					return fmt.Errorf("parsing data: %w", err)
				}
			}

			if truthy {
				fmt.Fprintln(cmd.OutOrStdout(), rules.Matches(expr, data))
				return nil
			}

			out, err := json.Marshal(rules.Evaluate(expr, data))
			if err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&truthy, "truthy", false, "print whether the result is truthy")
	return cmd
}
