package command

import "strings"

type helpEntry struct {
	usage string
	desc  string
}

var helpEntries = []helpEntry{
	{"help", "Show this list."},
	{"init [mode]", "Start a 1v1 ladder tournament in this channel (one per channel)."},
	{"delete_tournament", "Delete the tournament (admin only)."},
	{"register [user]", "Join the ladder at the bottom. Naming another user is admin only."},
	{"unregister [user] [force]", "Leave the ladder. force cancels open challenges (admin only)."},
	{"challenge <user>", "Challenge a player for their position."},
	{"result <won|lost> [opponent] [user]", "Report the result of your open challenge."},
	{"cancel [opponent] [user]", "Cancel your open challenge."},
	{"forfeit [opponent] [user]", "Concede your open challenge."},
	{"move <user> <position>", "Move a player to another position (admin only)."},
	{"standings", "Show the current standings."},
	{"active_challenges", "Show open challenges."},
	{"history [length]", "Show recent matches, newest first (default 10)."},
	{"printraw", "Print the raw tournament data."},
	{"set <user|system> <key> <value> [user]", "Change a setting. user keys: notes, status, timeout. system keys (admin only): notes, mode, timeout, admin_add, admin_remove."},
}

// HelpText lists every command
func HelpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, e := range helpEntries {
		b.WriteString("  ")
		b.WriteString(e.usage)
		b.WriteString(" - ")
		b.WriteString(e.desc)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
