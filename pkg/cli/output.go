package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/speedrun-hq/intentmesh/pkg/models"
	"github.com/speedrun-hq/intentmesh/pkg/tokens"
)

// printer writes command results as JSON or as text tables
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) *printer {
	return &printer{format: opts.Format, w: w}
}

func (p *printer) json(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table(header []string, rows [][]string) {
	table := tablewriter.NewWriter(p.w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

func (p *printer) intents(intents []models.Intent) error {
	if p.format == "json" {
		return p.json(intents)
	}
	if len(intents) == 0 {
		_, err := fmt.Fprintln(p.w, "No intents")
		return err
	}
	rows := make([][]string, 0, len(intents))
	for _, i := range intents {
		rows = append(rows, []string{
			i.ID,
			i.FromAmount + " " + i.FromToken,
			i.ToAmount + " " + i.ToToken,
			string(i.Status),
			i.Expiry.Format(time.RFC3339),
			i.CreatorAddress,
			i.MatchedBy,
		})
	}
	p.table([]string{"ID", "Gives", "Wants", "Status", "Expiry", "Creator", "Matched By"}, rows)
	return nil
}

func (p *printer) intent(intent *models.Intent) error {
	if p.format == "json" {
		return p.json(intent)
	}
	rows := [][]string{
		{"ID", intent.ID},
		{"Gives", intent.FromAmount + " " + intent.FromToken},
		{"Wants", intent.ToAmount + " " + intent.ToToken},
		{"Status", string(intent.Status)},
		{"Expiry", intent.Expiry.Format(time.RFC3339)},
		{"Creator", intent.CreatorAddress},
		{"Created", intent.CreatedAt.Format(time.RFC3339)},
		{"Updated", intent.UpdatedAt.Format(time.RFC3339)},
	}
	if intent.MatchedBy != "" {
		rows = append(rows, []string{"Matched By", intent.MatchedBy})
	}
	if intent.SettlementRef != "" {
		rows = append(rows, []string{"Settlement", intent.SettlementRef})
	}
	p.table([]string{"Field", "Value"}, rows)
	return nil
}

func (p *printer) matches(matches []models.IntentMatch) error {
	if p.format == "json" {
		return p.json(matches)
	}
	if len(matches) == 0 {
		_, err := fmt.Fprintln(p.w, "No matches")
		return err
	}
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{
			m.IntentA.ID,
			m.IntentB.ID,
			m.IntentA.FromToken + "/" + m.IntentA.ToToken,
			strconv.Itoa(m.CompatibilityScore),
			strconv.FormatBool(m.CanFulfill),
		})
	}
	p.table([]string{"Intent", "Counter-intent", "Pair", "Score", "Fulfillable"}, rows)
	return nil
}

func (p *printer) tokens(list []tokens.Token) error {
	if p.format == "json" {
		return p.json(list)
	}
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{t.Symbol, t.Name, strconv.Itoa(int(t.Decimals))})
	}
	p.table([]string{"Symbol", "Name", "Decimals"}, rows)
	return nil
}

func (p *printer) message(format string, args ...interface{}) error {
	if p.format == "json" {
		return p.json(map[string]string{"message": fmt.Sprintf(format, args...)})
	}
	_, err := fmt.Fprintf(p.w, format+"\n", args...)
	return err
}
