package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

// str and num pull loosely-typed fields out of decoded JSON objects.
func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) int64 {
	f, _ := m[key].(float64)
	return int64(f)
}

func sub(m map[string]any, key string) map[string]any {
	s, _ := m[key].(map[string]any)
	return s
}

func items(m map[string]any, key string) []map[string]any {
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if o, ok := v.(map[string]any); ok {
			out = append(out, o)
		}
	}
	return out
}

// renderVerdict prints a play result. Refusals are yellow, not errors.
func renderVerdict(raw map[string]any) {
	msg := str(raw, "message")
	if msg == "" {
		msg = "Done."
	}
	if ok, _ := raw["success"].(bool); ok {
		printSuccess(msg)
		return
	}
	printWarn(msg)
}

func renderMe(raw map[string]any) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(str(raw, "username")))
	fmt.Printf("%-14s %d cr\n", "Balance:", num(raw, "balance"))
	if faction := str(raw, "faction"); faction != "" {
		fmt.Printf("%-14s %s\n", "Faction:", faction)
	}
	if stats := sub(raw, "stats"); stats != nil {
		fmt.Printf("%-14s %d played / %d won / %d cr earned\n",
			"Stats:", num(stats, "gamesPlayed"), num(stats, "wins"), num(stats, "totalEarnings"))
	}
	if inv, ok := raw["inventory"].([]any); ok && len(inv) > 0 {
		names := make([]string, 0, len(inv))
		for _, it := range inv {
			if s, ok := it.(string); ok {
				names = append(names, s)
			}
		}
		fmt.Printf("%-14s %s\n", "Inventory:", strings.Join(names, ", "))
	}
	fmt.Println()
}

func renderLeaderboard(raw map[string]any) {
	accent.Printf("\n== LEADERBOARD ==\n")
	rows := items(raw, "players")
	if len(rows) == 0 {
		printInfo("No players yet.")
		return
	}
	fmt.Printf("%-6s %-18s %-10s %10s %6s\n", "RANK", "PLAYER", "FACTION", "BALANCE", "WINS")
	for i, row := range rows {
		stats := sub(row, "stats")
		fmt.Printf("%-6d %-18s %-10s %10d %6d\n",
			i+1, str(row, "username"), str(row, "faction"), num(row, "balance"), num(stats, "wins"))
	}
	fmt.Println()
}

func renderTreasury(raw map[string]any) {
	accent.Printf("\n== TREASURY ==\n")
	holder := str(raw, "holder")
	if holder == "" {
		holder = "(vacant)"
	}
	fmt.Printf("%-14s %s\n", "Holder:", holder)
	fmt.Printf("%-14s %d cr\n", "Usurp price:", num(raw, "price"))
	fmt.Printf("%-14s %d cr\n", "Pool:", num(raw, "pool"))
	fmt.Println()
}

func renderVault(raw map[string]any) {
	accent.Printf("\n== VAULT ==\n")
	fmt.Printf("%-14s %d cr\n", "Jackpot:", num(raw, "jackpot"))
	history := items(raw, "history")
	if len(history) == 0 {
		printInfo("No guesses yet.")
		fmt.Println()
		return
	}
	fmt.Printf("%-14s %-8s %6s %8s\n", "PLAYER", "GUESS", "EXACT", "PARTIAL")
	for _, h := range history {
		fmt.Printf("%-14s %-8s %6d %8d\n",
			str(h, "username"), str(h, "guess"), num(h, "exact"), num(h, "partial"))
	}
	fmt.Println()
}

func renderAuction(raw map[string]any) {
	accent.Printf("\n== AUCTION ==\n")
	if active, _ := raw["active"].(bool); !active {
		printInfo("No listing on the block.")
		fmt.Println()
		return
	}
	listing := sub(raw, "listing")
	item := sub(listing, "item")
	fmt.Printf("%-14s %s: %s\n", "Item:", str(item, "name"), str(item, "description"))
	bidder := str(listing, "highestBidder")
	if bidder == "" {
		fmt.Printf("%-14s none (starts at %d cr)\n", "Highest bid:", num(listing, "startingBid"))
	} else {
		fmt.Printf("%-14s %d cr by %s\n", "Highest bid:", num(listing, "currentBid"), bidder)
	}
	fmt.Printf("%-14s +%d cr\n", "Min raise:", num(listing, "minIncrement"))
	closes := time.Unix(num(listing, "closeTime"), 0)
	if remaining := time.Until(closes); remaining > 0 {
		fmt.Printf("%-14s %s (%s left)\n", "Closes:", closes.Format(time.RFC822), remaining.Round(time.Second))
	} else {
		fmt.Printf("%-14s closed, awaiting claim\n", "Status:")
	}
	fmt.Println()
}

func renderTerritory(raw map[string]any) {
	accent.Printf("\n== TERRITORY (season %d) ==\n", num(sub(raw, "war"), "seasonId"))
	sectors := items(raw, "sectors")
	byID := make(map[string]map[string]any, len(sectors))
	maxX, maxY := int64(0), int64(0)
	for _, s := range sectors {
		byID[fmt.Sprintf("%d_%d", num(s, "x"), num(s, "y"))] = s
		if num(s, "x") > maxX {
			maxX = num(s, "x")
		}
		if num(s, "y") > maxY {
			maxY = num(s, "y")
		}
	}
	glyphs := map[string]string{"cyber": "C", "steampunk": "S", "nature": "N"}
	for y := int64(0); y <= maxY; y++ {
		row := make([]string, 0, maxX+1)
		for x := int64(0); x <= maxX; x++ {
			g := "."
			if s, ok := byID[fmt.Sprintf("%d_%d", x, y)]; ok {
				if owner := str(s, "owner"); owner != "" {
					g = glyphs[owner]
				}
			}
			row = append(row, g)
		}
		fmt.Println(strings.Join(row, " "))
	}
	counts := map[string]int{}
	for _, s := range sectors {
		if owner := str(s, "owner"); owner != "" {
			counts[owner]++
		}
	}
	factions := make([]string, 0, len(counts))
	for f := range counts {
		factions = append(factions, f)
	}
	sort.Strings(factions)
	for _, f := range factions {
		fmt.Printf("%s (%s): %d sectors\n", f, glyphs[f], counts[f])
	}
	fmt.Println()
}

func renderEvents(raw map[string]any) {
	accent.Printf("\n== BETTING EVENTS ==\n")
	events := items(raw, "events")
	if len(events) == 0 {
		printInfo("No events.")
		fmt.Println()
		return
	}
	for _, ev := range events {
		status := str(ev, "status")
		line := fmt.Sprintf("[%s] %s (%s)", str(ev, "id"), str(ev, "question"), status)
		if status == "OPEN" {
			neutral.Println(line)
		} else {
			fmt.Println(line)
		}
		for _, opt := range items(ev, "options") {
			fmt.Printf("  %-8s %s\n", str(opt, "id"), str(opt, "label"))
		}
	}
	fmt.Println()
}

func renderCore(raw map[string]any) {
	state := sub(raw, "state")
	accent.Printf("\n== CORE (level %d) ==\n", num(state, "level"))
	fmt.Printf("%-14s %d / %d HP\n", "Integrity:", num(state, "hp"), num(state, "maxHp"))
	fmt.Printf("%-14s %s\n", "Status:", str(state, "status"))
	players := items(raw, "players")
	if len(players) > 0 {
		fmt.Printf("\n%-18s %8s %12s\n", "COMBATANT", "DPS", "DAMAGE")
		for _, p := range players {
			fmt.Printf("%-18s %8d %12d\n", str(p, "username"), num(p, "dps"), num(p, "damageDealt"))
		}
	}
	fmt.Println()
}

func renderIdle(raw map[string]any) {
	accent.Printf("\n== ABDOU CLICKER ==\n")
	save := sub(raw, "save")
	fmt.Printf("%-16s %d\n", "Abdous:", num(save, "abdous"))
	fmt.Printf("%-16s %d\n", "Lifetime:", num(save, "lifetimeAbdous"))
	fmt.Printf("%-16s %d\n", "Shares:", num(save, "shares"))
	if mult, ok := raw["multiplier"].(float64); ok {
		fmt.Printf("%-16s x%.2f\n", "Multiplier:", mult)
	}
	if pending := num(raw, "pendingShares"); pending > 0 {
		printSuccess(fmt.Sprintf("Prestige now for %d share(s).", pending))
	}
	fmt.Println()
}
