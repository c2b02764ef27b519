// Command admin inspects a colony database offline: list cities, dump a
// city's state, or list its indexed actions. It opens the sqlite file
// directly, so run it against a stopped server or a copy of the db.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"oceandepths/internal/persistence/store"
	"oceandepths/internal/protocol"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "show":
			showCmd(os.Args[2:])
			return
		case "actions":
			actionsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dbPath := fs.String("db", "./data/cities.db", "sqlite database path")
	_ = fs.Parse(args)

	st := mustOpen(*dbPath)
	defer st.Close()

	cities, err := st.ListCities(context.Background())
	if err != nil {
		fatal("list cities:", err)
	}
	for _, c := range cities {
		fmt.Printf("%s\tplayer=%s\tname=%q\tupdated=%s\n", c.CityID, c.PlayerID, c.Name, c.UpdatedAt)
	}
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dbPath := fs.String("db", "./data/cities.db", "sqlite database path")
	cityID := fs.String("city", "", "city id")
	raw := fs.Bool("raw", false, "print the full state blob instead of a summary")
	_ = fs.Parse(args)

	if *cityID == "" {
		fatal("missing -city", nil)
	}

	st := mustOpen(*dbPath)
	defer st.Close()

	blob, ok, err := st.LoadCity(context.Background(), *cityID)
	if err != nil {
		fatal("load city:", err)
	}
	if !ok {
		fatal("city not found: "+*cityID, nil)
	}

	if *raw {
		var buf json.RawMessage = blob
		pretty, err := json.MarshalIndent(buf, "", "  ")
		if err != nil {
			fatal("indent:", err)
		}
		fmt.Println(string(pretty))
		return
	}

	var p struct {
		State    protocol.CityState `json:"state"`
		Pending  []json.RawMessage  `json:"pending_actions"`
		Archived []json.RawMessage  `json:"archived_actions"`
	}
	if err := json.Unmarshal(blob, &p); err != nil {
		fatal("decode state:", err)
	}

	s := p.State
	fmt.Printf("city=%s player=%s name=%q synced=%s\n", s.CityID, s.PlayerID, s.Name, s.LastSyncedAt.Format("2006-01-02T15:04:05Z"))
	fmt.Printf("pending=%d archived=%d techs=%d researching=%d\n",
		len(p.Pending), len(p.Archived), len(s.UnlockedTechs), len(s.CurrentResearch))
	for _, kind := range []string{"energy", "minerals", "food", "oxygen", "water", "population", "tech_points"} {
		fmt.Printf("  %-12s %6d / %d\n", kind, s.Resources[kind], s.Capacity[kind])
	}

	operational, building := 0, 0
	for _, row := range s.Grid {
		for _, cell := range row {
			if cell.Base == nil {
				continue
			}
			if cell.Base.IsOperational {
				operational++
			} else {
				building++
			}
		}
	}
	fmt.Printf("bases: %d operational, %d under construction\n", operational, building)
}

func actionsCmd(args []string) {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	dbPath := fs.String("db", "./data/cities.db", "sqlite database path")
	cityID := fs.String("city", "", "city id")
	_ = fs.Parse(args)

	if *cityID == "" {
		fatal("missing -city", nil)
	}

	st := mustOpen(*dbPath)
	defer st.Close()

	rows, err := st.ActionsForCity(context.Background(), *cityID)
	if err != nil {
		fatal("list actions:", err)
	}
	for _, r := range rows {
		fmt.Printf("%s\t%s\t%s\n", r.ActionID, r.Status, r.UpdatedAt)
	}
}

func mustOpen(path string) *store.SQLite {
	st, err := store.Open(path)
	if err != nil {
		fatal("open db:", err)
	}
	return st
}

func fatal(msg string, err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, msg, err)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(1)
}
