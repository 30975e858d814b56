package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/andreyvit/reldb"
)

type cmdStat struct {
	Prefix string `long:"prefix" description:"Only show buckets whose name starts with this prefix"`
}

func (cmd *cmdStat) Execute([]string) error {
	home, opt, err := openOptions()
	if err != nil {
		return err
	}
	db, err := reldb.Open(home, false, opt)
	if err != nil {
		return err
	}
	defer db.Close()

	names, err := db.Buckets()
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Bucket", "Kind", "Keys", "In use", "Allocated"})

	var keys int
	for _, name := range names {
		if !strings.HasPrefix(name, cmd.Prefix) {
			continue
		}
		bs, err := db.BucketStats(name)
		if err != nil {
			return err
		}
		keys += bs.KeyN
		table.Append([]string{
			name,
			bucketKind(name),
			fmt.Sprintf("%d", bs.KeyN),
			fmt.Sprintf("%d", bs.LeafInuse),
			fmt.Sprintf("%d", bs.TotalAlloc()),
		})
	}
	table.Render()

	fmt.Printf("%d keys, file size %d bytes\n", keys, db.Size())
	return nil
}

func bucketKind(name string) string {
	switch {
	case name == "__seq":
		return "sequences"
	case strings.HasSuffix(name, ".ix"):
		return "index"
	case strings.HasSuffix(name, ".db"):
		return "table"
	default:
		return "?"
	}
}
