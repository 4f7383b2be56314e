package ui

import (
	"fmt"
	"sort"

	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RoomTableView renders a room document as a field/value table.
func RoomTableView(doc *signaling.Document) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s %s (version %d)", IconRoom, doc.RoomID, doc.Version))
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(table.Row{"Field", "Value"})

	names := make([]string, 0, len(doc.Fields))
	for name := range doc.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AppendRow(table.Row{name, summarize(doc.Fields[name])})
	}
	if len(names) == 0 {
		t.AppendRow(table.Row{MutedStyle.Render("(empty)"), ""})
	}
	return t.Render()
}

func RenderRoomTable(doc *signaling.Document) {
	fmt.Println(RoomTableView(doc))
}

// RoomListView renders one row per room.
func RoomListView(docs []*signaling.Document) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(table.Row{"Room", "Version", "Fields"})
	for _, d := range docs {
		t.AppendRow(table.Row{d.RoomID, d.Version, len(d.Fields)})
	}
	t.AppendFooter(table.Row{"Total", "", len(docs)})
	return t.Render()
}

func summarize(v any) string {
	switch v := v.(type) {
	case string:
		if len(v) > 40 {
			return fmt.Sprintf("%s… (%d bytes)", v[:40], len(v))
		}
		return v
	case []any:
		return fmt.Sprintf("%d entries", len(v))
	case []map[string]any:
		return fmt.Sprintf("%d entries", len(v))
	case nil:
		return "null"
	default:
		return fmt.Sprint(v)
	}
}
