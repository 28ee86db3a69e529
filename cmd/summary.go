package main

import (
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/ivanvanderbyl/marstek/pkg/marstek"
)

type summaryRow struct {
	method string
	result *marstek.Result
}

func renderSummary(w io.Writer, rows []summaryRow) string {
	tw := table.NewWriter()
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleDefault)
	}

	tw.AppendHeader(table.Row{"Method", "Attempts", "Packets", "Outcome"})
	for _, row := range rows {
		tw.AppendRow(table.Row{
			row.method,
			strconv.Itoa(row.result.Attempts),
			strconv.Itoa(len(row.result.Packets)),
			row.result.Outcome.String(),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})

	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
