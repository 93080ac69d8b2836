package main

import (
	"fmt"
	"strconv"

	cl "tycoon/internal/cli"
	"tycoon/internal/game"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func renderState(s cl.LocalState) {
	accent.Printf("%s  capital %s\n", s.UserID, s.Capital.StringFixed(2))
	t := newTable("ID", "BUSINESS", "LEVEL", "MANAGED", "REWARD", "COOLDOWN", "UNLOCK")
	for _, b := range s.Businesses {
		managed := "-"
		if b.IsManaged {
			managed = "yes"
		}
		t.Row(
			strconv.FormatInt(b.ID, 10),
			b.Name,
			strconv.FormatInt(int64(b.CurrentLevel), 10),
			managed,
			b.BaseRewards.String(),
			fmt.Sprintf("%gs", b.Cooldown),
			b.UnlockingPrice.String(),
		)
	}
	fmt.Println(t.Render())
}

func renderCatalog(defs []game.BusinessDefinition) {
	t := newTable("ID", "BUSINESS", "UNLOCK", "REWARD", "UPGRADE", "COOLDOWN", "MANAGER")
	for _, d := range defs {
		t.Row(
			strconv.FormatInt(d.ID, 10),
			d.Name,
			d.UnlockingPrice.String(),
			d.BaseRewards.String(),
			d.BaseUpgradingPrice.String(),
			fmt.Sprintf("%gs", d.Cooldown),
			d.ManagerCost.String(),
		)
	}
	fmt.Println(t.Render())
}
