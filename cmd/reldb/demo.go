package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"github.com/andreyvit/reldb"
)

type cmdDemo struct {
	InMemory bool `long:"in-memory" description:"Build the database in memory instead of under --home"`
}

type season struct {
	Order int `msgpack:"order"`
}

type month struct {
	Season string `msgpack:"season"`
	Days   int    `msgpack:"days"`
	Ordnum int64  `msgpack:"ordnum"`
}

var (
	seasonNames = []string{"Winter", "Spring", "Summer", "Autumn"}

	months = []struct {
		name   string
		season string
		days   int
	}{
		{"January", "Winter", 31},
		{"February", "Winter", 28},
		{"March", "Spring", 31},
		{"April", "Spring", 30},
		{"May", "Spring", 31},
		{"June", "Summer", 30},
		{"July", "Summer", 31},
		{"August", "Summer", 31},
		{"September", "Autumn", 30},
		{"October", "Autumn", 31},
		{"November", "Autumn", 30},
		{"December", "Winter", 31},
	}
)

func (cmd *cmdDemo) Execute([]string) error {
	var (
		home string
		opt  reldb.Options
		err  error
	)
	if cmd.InMemory {
		opt, err = (&reldb.Config{InMemory: true, LogLevel: baseCfg.LogLevel, Verbose: baseCfg.Verbose}).Options()
	} else {
		home, opt, err = openOptions()
	}
	if err != nil {
		return err
	}
	log := logger(opt)

	db, err := reldb.Open(home, true, opt)
	if err != nil {
		return err
	}
	defer db.Close()

	seasons, err := db.AddTable("season", nil, true)
	if err != nil {
		return err
	}
	monthTbl, err := db.AddTable("month", nil, true)
	if err != nil {
		return err
	}
	seq, err := db.AddSequence("month", true)
	if err != nil {
		return err
	}

	bySeason, err := monthTbl.AddIndex("season", reldb.ExtractData(func(m *month) (string, bool) {
		return m.Season, true
	}), nil, false)
	if err != nil {
		return err
	}
	if err := bySeason.AddForeign(seasons, false); err != nil {
		return err
	}
	byDays, err := monthTbl.AddIndex("days", reldb.ExtractData(func(m *month) (int, bool) {
		return m.Days, true
	}), nil, false)
	if err != nil {
		return err
	}
	_, err = monthTbl.AddIndex("ordnum", reldb.ExtractData(func(m *month) (int64, bool) {
		return m.Ordnum, true
	}), nil, true)
	if err != nil {
		return err
	}

	err = db.InTransaction(func() error {
		for i, name := range seasonNames {
			if err := seasons.Insert(name, &season{Order: i + 1}); err != nil {
				return err
			}
		}
		for _, m := range months {
			id, err := seq.ID()
			if err != nil {
				return err
			}
			if err := monthTbl.Insert(m.name, &month{Season: m.season, Days: m.days, Ordnum: id}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"seasons": len(seasonNames), "months": len(months)}).Info("demo database populated")

	rs, err := monthTbl.Scan()
	if err != nil {
		return err
	}
	fmt.Println("Months in key order:")
	if err := printMonths(rs); err != nil {
		return err
	}

	rs, err = bySeason.Scan()
	if err != nil {
		return err
	}
	fmt.Println("Months by season:")
	if err := printMonths(rs); err != nil {
		return err
	}

	autumn, err := bySeason.ScanKey("Autumn")
	if err != nil {
		return err
	}
	thirty, err := byDays.ScanKey(30)
	if err != nil {
		autumn.Close()
		return err
	}
	join, err := monthTbl.Join(autumn, thirty)
	if err != nil {
		autumn.Close()
		thirty.Close()
		return err
	}
	fmt.Println("Autumn months with 30 days:")
	return printMonths(join)
}

func printMonths(rs *reldb.Recordset) error {
	defer rs.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Month", "Season", "Days", "Ordnum"})
	for {
		var name string
		var m month
		found, err := rs.Fetch(&name, &m)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		table.Append([]string{name, m.Season, fmt.Sprint(m.Days), fmt.Sprint(m.Ordnum)})
	}
	table.Render()
	return nil
}
