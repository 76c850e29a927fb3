package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rickgao/schedule-sync/internal/connection"
	"github.com/rickgao/schedule-sync/internal/model"
)

var errQuit = errors.New("quit")

const usage = `commands:
  cursor X Y                 move the cursor
  select ITEM | select -     select an item or clear the selection
  edit ITEM key=value ...    send an edit (values are JSON when they parse)
  comment ITEM TEXT...       comment on an item
  lock ITEM | unlock ITEM    request or release an item lock
  typing on|off              typing indicator
  approve STATUS [TEXT...]   pending, approved, rejected or changes_requested
  who | locks                print the cached roster or lock table
  state                      connection state and queued intents
  reconnect                  connect again after giving up
  quit`

// execute runs one command line against m.
func execute(m connection.Manager, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "cursor":
		if len(args) != 2 {
			return "", errors.New("usage: cursor X Y")
		}
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return "", fmt.Errorf("bad x: %w", err)
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "", fmt.Errorf("bad y: %w", err)
		}
		return "", m.SendCursor(x, y)

	case "select":
		if len(args) != 1 {
			return "", errors.New("usage: select ITEM | select -")
		}
		if args[0] == "-" {
			return "", m.SendSelection(nil)
		}
		item := args[0]
		return "", m.SendSelection(&item)

	case "edit":
		if len(args) < 2 {
			return "", errors.New("usage: edit ITEM key=value ...")
		}
		changes, err := parseChanges(args[1:])
		if err != nil {
			return "", err
		}
		return "", m.SendEdit(args[0], changes)

	case "comment":
		if len(args) < 2 {
			return "", errors.New("usage: comment ITEM TEXT...")
		}
		id, err := m.SendComment(model.CommentData{ItemID: args[0], Text: strings.Join(args[1:], " ")})
		return "comment " + id, err

	case "lock", "unlock":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: %s ITEM", cmd)
		}
		if cmd == "lock" {
			return "", m.RequestLock(args[0])
		}
		return "", m.ReleaseLock(args[0])

	case "typing":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return "", errors.New("usage: typing on|off")
		}
		return "", m.SendTyping(args[0] == "on")

	case "approve":
		if len(args) < 1 {
			return "", errors.New("usage: approve STATUS [TEXT...]")
		}
		switch args[0] {
		case model.ApprovalPending, model.ApprovalApproved, model.ApprovalRejected, model.ApprovalChangesRequested:
		default:
			return "", fmt.Errorf("unknown approval status %q", args[0])
		}
		return "", m.SendApproval(args[0], strings.Join(args[1:], " "))

	case "who":
		var b strings.Builder
		for _, c := range m.Collaborators() {
			fmt.Fprintf(&b, "%s (%s) %s", c.UserID, c.UserName, c.Color)
			if c.SelectedItemID != nil {
				fmt.Fprintf(&b, " on %s", *c.SelectedItemID)
			}
			if c.IsTyping {
				b.WriteString(" typing")
			}
			b.WriteString("\n")
		}
		return strings.TrimSuffix(b.String(), "\n"), nil

	case "locks":
		var b strings.Builder
		for _, l := range m.Locks() {
			fmt.Fprintf(&b, "%s held by %s until %s\n", l.ItemID, l.HolderID, l.ExpiresAt.Format("15:04:05"))
		}
		return strings.TrimSuffix(b.String(), "\n"), nil

	case "state":
		return fmt.Sprintf("%s, %d queued", m.State(), m.QueueLen()), nil

	case "help":
		return usage, nil

	case "quit", "exit":
		return "", errQuit

	default:
		return "", fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// parseChanges turns key=value pairs into an edit's changed fields.
func parseChanges(pairs []string) (map[string]any, error) {
	changes := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad change %q, want key=value", p)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			parsed = v
		}
		changes[k] = parsed
	}
	return changes, nil
}

// describe renders an event as one console line.
func describe(ev connection.Event) string {
	switch ev.Type {
	case connection.EventCollaborators:
		ids := make([]string, len(ev.Collaborators))
		for i, c := range ev.Collaborators {
			ids[i] = c.UserID
		}
		return fmt.Sprintf("[roster] %s", strings.Join(ids, ", "))
	case connection.EventLocks:
		return fmt.Sprintf("[locks] %d held", len(ev.Locks))
	case connection.EventDisconnect:
		if ev.Err == nil {
			return "[disconnect]"
		}
		return fmt.Sprintf("[disconnect] %v", ev.Err)
	case connection.EventReconnect:
		return "[reconnect]"
	case connection.EventReconnectFailed, connection.EventError:
		return fmt.Sprintf("[%s] %v", ev.Type, ev.Err)
	default:
		return fmt.Sprintf("[%s] from=%s data=%s", ev.Type, ev.Message.UserID, ev.Message.Data)
	}
}
