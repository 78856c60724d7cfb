package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"guidon/internal/storage"
)

// DailyStats summarises one day of the interaction journal.
type DailyStats struct {
	Date              string               `json:"date"`
	TotalCommands     int                  `json:"total_commands"`
	UniqueUsers       int                  `json:"unique_users"`
	Completed         int                  `json:"completed"`
	Failed            int                  `json:"failed"`
	CommandsByName    map[string]int       `json:"commands_by_name"`
	CommandsByChannel map[string]int       `json:"commands_by_channel"`
	UserStats         map[string]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID         string         `json:"user_id"`
	Commands       int            `json:"commands"`
	CommandsByName map[string]int `json:"commands_by_name"`
}

func dayBounds(target time.Time) (time.Time, time.Time) {
	start := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, target.Location())
	return start, start.Add(24 * time.Hour)
}

// AnalyzeDailyLogs counts the events of targetDate's calendar day.
// Accepted events count as commands; completed events feed the
// success/failure counters.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay, endOfDay := dayBounds(targetDate)

	stats := &DailyStats{
		Date:              startOfDay.Format("2006-01-02"),
		CommandsByName:    make(map[string]int),
		CommandsByChannel: make(map[string]int),
		UserStats:         make(map[string]UserStats),
	}

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		switch event.Stage {
		case storage.StageCompleted:
			if event.Status == "error" {
				stats.Failed++
			} else {
				stats.Completed++
			}
			continue
		case storage.StageAccepted:
		default:
			continue
		}

		stats.TotalCommands++
		stats.CommandsByName[event.Command]++
		stats.CommandsByChannel[event.Channel]++
		if event.UserID == "" {
			continue
		}
		userStat, exists := stats.UserStats[event.UserID]
		if !exists {
			userStat = UserStats{UserID: event.UserID, CommandsByName: make(map[string]int)}
		}
		userStat.Commands++
		userStat.CommandsByName[event.Command]++
		stats.UserStats[event.UserID] = userStat
	}

	stats.UniqueUsers = len(stats.UserStats)
	return stats
}

// UserTotals aggregates every accepted command of one user across the
// whole journal.
func UserTotals(events []storage.Event, userID string) UserStats {
	out := UserStats{UserID: userID, CommandsByName: make(map[string]int)}
	for _, ev := range events {
		if ev.Stage != storage.StageAccepted || ev.UserID != userID {
			continue
		}
		out.Commands++
		out.CommandsByName[ev.Command]++
	}
	return out
}

// GenerateReportSummary renders a short plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Guidon usage for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Commands: %d\n", ds.TotalCommands)
	fmt.Fprintf(&b, "- Unique users: %d\n", ds.UniqueUsers)
	fmt.Fprintf(&b, "- Slow results: %d ok, %d failed\n\n", ds.Completed, ds.Failed)

	if len(ds.CommandsByName) > 0 {
		b.WriteString("By command:\n")
		for _, name := range sortedKeys(ds.CommandsByName) {
			fmt.Fprintf(&b, "- %s: %d\n", name, ds.CommandsByName[name])
		}
		b.WriteString("\n")
	}
	if len(ds.CommandsByChannel) > 0 {
		b.WriteString("By channel:\n")
		for _, ch := range sortedKeys(ds.CommandsByChannel) {
			fmt.Fprintf(&b, "- %s: %d\n", ch, ds.CommandsByChannel[ch])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
