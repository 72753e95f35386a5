package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/sells-group/scorito-extract/internal/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func playersTable(players []model.PlayerRecord) string {
	rows := make([][]string, 0, len(players))
	for _, p := range players {
		rows = append(rows, []string{p.ID, p.Name, p.Team, p.Position, p.Jersey, p.Points, p.Worth})
	}
	return renderTable(
		[]string{"ID", "Name", "Team", "Pos", "No.", "Points", "Worth"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

func imagesTable(imgs []model.ImageResult) string {
	rows := make([][]string, 0, len(imgs))
	for _, img := range imgs {
		score := ""
		if img.Score != nil {
			score = strconv.Itoa(img.Score.Score)
		}
		rows = append(rows, []string{
			img.Image,
			img.State.String(),
			strconv.Itoa(img.Attempts),
			score,
			strconv.Itoa(len(img.Players)),
			truncate(img.Reason, 60),
		})
	}
	return renderTable(
		[]string{"Image", "State", "Attempts", "Score", "Players", "Reason"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func summaryTable(res *model.BatchResult) string {
	accepted, exhausted := res.Counts()
	rows := [][]string{
		{"Images", strconv.Itoa(len(res.Images))},
		{"Accepted", strconv.Itoa(accepted)},
		{"Exhausted", strconv.Itoa(exhausted)},
		{"Players", strconv.Itoa(len(res.Players))},
		{"Stored", strconv.Itoa(res.Stored)},
		{"Store failures", strconv.Itoa(res.StoreFailures)},
		{"Est. cost", fmt.Sprintf("$%.4f", res.Usage.Cost)},
		{"Duration", res.Duration.Round(time.Millisecond).String()},
	}
	if res.DiscoveryError != "" {
		rows = append(rows, []string{"Error", res.DiscoveryError})
	}
	if res.Cancelled {
		rows = append(rows, []string{"Cancelled", "yes"})
	}
	return renderTable([]string{"Batch", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

func runsTable(runs []model.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		images, accepted, players := "", "", ""
		if r.Summary != nil {
			images = strconv.Itoa(r.Summary.Images)
			accepted = strconv.Itoa(r.Summary.Accepted)
			players = strconv.Itoa(r.Summary.Players)
		}
		rows = append(rows, []string{
			truncateID(r.ID),
			truncate(r.Dir, 40),
			string(r.Status),
			images,
			accepted,
			players,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String(),
		})
	}
	return renderTable(
		[]string{"ID", "Dir", "Status", "Images", "Accepted", "Players", "Created", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignRight},
	)
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
