package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"settings_sync/internal/dataType"
	"settings_sync/internal/server"
	"settings_sync/internal/settings"
)

// runConsole executes stdin commands against a running node until input
// ends or ctx is done. quit reports whether the user asked to leave.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, node *server.Node, store *settings.MemoryStore) (quit bool, err error) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return false, nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return true, nil
		}
		if err := execLine(line, out, node, store); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return false, scanner.Err()
}

func execLine(line string, out io.Writer, node *server.Node, store *settings.MemoryStore) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "set":
		key, raw, ok := strings.Cut(rest, " ")
		if !ok || key == "" {
			return fmt.Errorf("usage: set <key> <json>")
		}
		return store.Set(key, parseValue(raw), false)

	case "unset":
		if rest == "" {
			return fmt.Errorf("usage: unset <key>")
		}
		return store.Set(rest, nil, false)

	case "get":
		v, ok := store.Get(rest)
		if !ok {
			_, err := fmt.Fprintf(out, "%s is not set\n", rest)
			return err
		}
		return printJSON(out, v)

	case "dump":
		return printJSON(out, store.Snapshot())

	case "peers":
		var (
			peers  []dataType.Peer
			leader string
			now    int64
		)
		if err := node.Do(func(m *server.SyncManager) {
			peers, leader = m.Peers(), m.LeaderID()
			now = time.Now().UnixMilli()
		}); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLEADER\tACTIVE\tREGISTERED\tLAST SEEN\tMETADATA")
		for _, p := range peers {
			mark := ""
			if p.ID == leader {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s ago\t%s\n",
				p.ID, mark, p.IsActive, p.RegisteredAt,
				time.Duration(now-p.LastSeen)*time.Millisecond, formatMetadata(p.Metadata))
		}
		return tw.Flush()

	case "leader":
		var (
			leader string
			self   bool
		)
		if err := node.Do(func(m *server.SyncManager) { leader, self = m.LeaderID(), m.IsLeader() }); err != nil {
			return err
		}
		_, err := fmt.Fprintf(out, "leader %s (self: %t)\n", leader, self)
		return err

	case "conflicts":
		var pending []dataType.ConflictRecord
		if err := node.Do(func(m *server.SyncManager) { pending = m.PendingConflicts() }); err != nil {
			return err
		}
		if len(pending) == 0 {
			_, err := fmt.Fprintln(out, "no pending conflicts")
			return err
		}
		return printJSON(out, pending)

	case "active":
		var active bool
		switch rest {
		case "on", "true", "1":
			active = true
		case "off", "false", "0":
		default:
			return fmt.Errorf("usage: active on|off")
		}
		return node.Do(func(m *server.SyncManager) { m.SetActive(active) })

	case "event":
		kind, raw, _ := strings.Cut(rest, " ")
		var detail map[string]any
		if strings.TrimSpace(raw) != "" {
			if err := json.Unmarshal([]byte(raw), &detail); err != nil {
				return fmt.Errorf("event detail must be a JSON object: %w", err)
			}
		}
		var perr error
		if err := node.Do(func(m *server.SyncManager) { perr = m.PublishEvent(dataType.Kind(kind), detail) }); err != nil {
			return err
		}
		return perr

	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

// parseValue reads raw as JSON and falls back to the bare string.
func parseValue(raw string) any {
	raw = strings.TrimSpace(raw)
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func formatMetadata(md map[string]string) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, " ")
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printEvents(ctx context.Context, out io.Writer, events <-chan dataType.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			fmt.Fprintln(out, describeEvent(ev))
		}
	}
}

func describeEvent(ev dataType.Event) string {
	switch ev.Type {
	case dataType.EventLeaderChanged:
		return fmt.Sprintf("[%s] %s (was %q)", ev.Type, ev.PeerID, ev.Previous)
	case dataType.EventSettingsSynced:
		return fmt.Sprintf("[%s] %s = %v (from %s)", ev.Type, ev.Key, ev.Value, ev.PeerID)
	case dataType.EventSettingsBulkSynced:
		return fmt.Sprintf("[%s] %d keys (from %s)", ev.Type, len(ev.Changes), ev.PeerID)
	case dataType.EventConflictDetected, dataType.EventConflictResolved:
		if ev.Conflict != nil {
			return fmt.Sprintf("[%s] %s key=%s strategy=%s value=%v", ev.Type, ev.Conflict.ID, ev.Conflict.Key, ev.Conflict.Strategy, ev.Conflict.ResolvedValue)
		}
	case dataType.EventDomain:
		return fmt.Sprintf("[%s] %s from %s: %s", ev.Type, ev.Kind, ev.PeerID, string(ev.Data))
	}
	return fmt.Sprintf("[%s] %s", ev.Type, ev.PeerID)
}
