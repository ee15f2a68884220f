package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/olekukonko/tablewriter"
	"github.com/wedaly/caesium/internal/cliclient"
	"github.com/wedaly/caesium/internal/wire"
)

var replKeywords = []prompt.Suggest{
	{Text: "fetch", Description: `fetch("metric", start, end)`},
	{Text: "coalesce", Description: "coalesce(stream)"},
	{Text: "combine", Description: "combine(stream, stream, ...)"},
	{Text: "group", Description: "group(minutes|hours|days, stream)"},
	{Text: "quantile", Description: "quantile(stream, phi, ...)"},
	{Text: "search", Description: `search("glob-pattern")`},
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7879", "server query address")
	one := fs.String("c", "", "run a single query and exit, instead of opening the REPL")
	fs.Parse(args)

	client := cliclient.New(*addr)

	if *one != "" {
		return runOne(client, *one)
	}

	fmt.Printf("caesium-cli query REPL connected to %s (Ctrl-D to exit)\n", *addr)
	p := prompt.New(
		func(line string) { executeAndPrint(client, line) },
		func(d prompt.Document) []prompt.Suggest {
			return prompt.FilterHasPrefix(replKeywords, d.GetWordBeforeCursor(), true)
		},
		prompt.OptionPrefix("caesium> "),
	)
	p.Run()
	return nil
}

func runOne(client *cliclient.Client, queryText string) error {
	status, payload, err := client.Query(queryText)
	if err != nil {
		return err
	}
	if err := cliclient.StatusError(status, payload); err != nil {
		return err
	}
	printResult(payload)
	return nil
}

func executeAndPrint(client *cliclient.Client, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	status, payload, err := client.Query(line)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	if status != wire.QueryOK {
		fmt.Fprintln(os.Stderr, "error:", cliclient.StatusError(status, payload))
		return
	}
	printResult(payload)
}

// printResult renders a query response payload as either a quantile
// table or a metric list, depending on which shape the lines parse as.
func printResult(payload []byte) {
	lines := strings.Split(strings.TrimRight(string(payload), "\n"), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		fmt.Println("(empty result)")
		return
	}

	if isQuantileTable(lines[0]) {
		printQuantileTable(lines)
		return
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

func isQuantileTable(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return false
	}
	_, err1 := strconv.ParseUint(fields[0], 10, 64)
	_, err2 := strconv.ParseUint(fields[1], 10, 64)
	return err1 == nil && err2 == nil && strings.Contains(fields[2], "=")
}

func printQuantileTable(lines []string) {
	table := tablewriter.NewWriter(os.Stdout)
	var header []string
	rows := make([][]string, 0, len(lines))

	for _, l := range lines {
		fields := strings.Fields(l)
		if len(fields) < 2 {
			continue
		}
		row := []string{fields[0], fields[1]}
		if header == nil {
			header = []string{"start", "end"}
			for _, f := range fields[2:] {
				phi, _, _ := strings.Cut(f, "=")
				header = append(header, "p"+phi)
			}
		}
		for _, f := range fields[2:] {
			_, v, _ := strings.Cut(f, "=")
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	table.SetHeader(header)
	table.AppendBulk(rows)
	table.Render()
}
