package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genebench/internal/llm"
	"genebench/internal/notebook"
)

var (
	editCell        int
	editStart       int
	editEnd         int
	editInstruction string
)

var notebookCmd = &cobra.Command{
	Use:   "notebook",
	Short: "Inspect and edit generated notebooks",
}

var notebookShowCmd = &cobra.Command{
	Use:   "show [file]",
	Short: "List a notebook's cells",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := notebook.Read(args[0])
		if err != nil {
			return err
		}
		for i, cell := range doc.Cells {
			src := cell.SourceText()
			preview := src
			if len(preview) > 72 {
				preview = preview[:72] + "..."
			}
			fmt.Printf("[%d] %-8s %q\n", i, cell.CellType, preview)
		}
		return nil
	},
}

var notebookEditCmd = &cobra.Command{
	Use:   "edit [file]",
	Short: "Rewrite part of a cell with the LLM",
	Long: `Sends the selected line range of a cell, plus the rest of the cell as
context, to the configured LLM and splices the rewritten code back in.
Omit --start to rewrite the whole cell.

Example:
  genebench notebook edit run.ipynb --cell 2 --start 4 --end 7 \
      --instruction "use a Benjamini-Hochberg corrected p-value"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if editInstruction == "" {
			return fmt.Errorf("--instruction is required")
		}

		client, err := llm.NewClient(cmd.Context(), cfg.LLM)
		if err != nil {
			return err
		}
		store, err := notebook.NewStore(logger)
		if err != nil {
			return err
		}
		defer store.Close()

		m := notebook.NewMutator(store, client, logger)
		if err := m.EditCellRange(cmd.Context(), args[0], editCell, editStart, editEnd, editInstruction); err != nil {
			return err
		}
		fmt.Printf("Rewrote cell %d of %s\n", editCell, args[0])
		return nil
	},
}

func init() {
	notebookEditCmd.Flags().IntVar(&editCell, "cell", 0, "cell index to edit")
	notebookEditCmd.Flags().IntVar(&editStart, "start", 0, "first line of the range (1-based; 0 = whole cell)")
	notebookEditCmd.Flags().IntVar(&editEnd, "end", 0, "last line of the range (inclusive)")
	notebookEditCmd.Flags().StringVar(&editInstruction, "instruction", "", "what to change")

	notebookCmd.AddCommand(notebookShowCmd)
	notebookCmd.AddCommand(notebookEditCmd)
}
