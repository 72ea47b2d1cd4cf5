package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/eventstore"
	"github.com/mmynk/eventlist/internal/ledger"
	"github.com/mmynk/eventlist/internal/models"
	"github.com/mmynk/eventlist/internal/rpc"
)

type command func(ctx context.Context, args []string) error

func (a *app) commands() map[string]command {
	return map[string]command{
		"list":      a.list,
		"show":      a.show,
		"add":       a.add,
		"item":      a.item,
		"share":     a.share,
		"unshare":   a.unshare,
		"archive":   a.archive,
		"unarchive": a.unarchive,
		"delete":    a.delete,
		"settle":    a.settle,
		"watch":     a.watch,
	}
}

func parse(name string, args []string, define func(*pflag.FlagSet)) ([]string, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if define != nil {
		define(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func (a *app) register(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: register <email> <password> [name]")
	}
	name := ""
	if len(args) > 2 {
		name = strings.Join(args[2:], " ")
	}
	session, err := a.rest.Register(ctx, args[0], name, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("registered %s\n%s\n", session.User.Email, session.Token)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: login <email> <password>")
	}
	session, err := a.rest.Login(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(session.Token)
	return nil
}

// resolve finds an event by id or unique id prefix.
func (a *app) resolve(arg string) (*models.Event, error) {
	if ev, err := a.svc.GetEventByID(models.NewID(arg)); err == nil {
		return ev, nil
	}
	var matches []*models.Event
	for _, ev := range slices.Concat(a.svc.Events(), a.svc.ArchivedEvents()) {
		if strings.HasPrefix(ev.ID.String(), arg) {
			matches = append(matches, ev)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no event matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d events", arg, len(matches))
	}
}

func shortID(id models.ID) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (a *app) list(_ context.Context, args []string) error {
	var archived bool
	if _, err := parse("list", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&archived, "archived", false, "list archived events")
	}); err != nil {
		return err
	}
	events := a.svc.Events()
	if archived {
		events = a.svc.ArchivedEvents()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tOWNER\tITEMS\tPARTICIPANTS")
	for _, ev := range events {
		title := ev.Title
		if ev.IsNew {
			title += " (unsaved)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			shortID(ev.ID), title, ev.OwnerID, len(ev.Items), strings.Join(ev.Participants, ", "))
	}
	return w.Flush()
}

func (a *app) show(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: show <event>")
	}
	ev, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s  %s\nowner: %s\nparticipants: %s\nshared with: %s\n\n",
		ev.ID, ev.Title, ev.OwnerID, strings.Join(ev.Participants, ", "), strings.Join(ev.SharedWith, ", "))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tSTATUS\tCLAIMED BY\tPRICE\tSHARED BY")
	for _, item := range ev.Items {
		status := "open"
		if item.Bought {
			status = "bought"
		}
		if item.Urgent {
			status += ", urgent"
		}
		price := "-"
		if item.Price != nil {
			price = ledger.Amount(*item.Price).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.Name, status, item.ClaimedBy, price, strings.Join(item.SharedBy, ", "))
	}
	return w.Flush()
}

func (a *app) add(ctx context.Context, args []string) error {
	var items, with []string
	rest, err := parse("add", args, func(fs *pflag.FlagSet) {
		fs.StringArrayVar(&items, "item", nil, "item to bring (repeatable)")
		fs.StringSliceVar(&with, "with", nil, "participants to share with")
	})
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return errors.New("usage: add <title> [--item name]... [--with person]...")
	}

	draft := models.EventDraft{
		Title:        strings.Join(rest, " "),
		Participants: with,
	}
	for _, name := range items {
		draft.Items = append(draft.Items, models.Item{Name: name})
	}
	ev, err := a.svc.AddEvent(ctx, draft, a.durable)
	if err != nil {
		return err
	}
	fmt.Println(ev.ID)
	return nil
}

func (a *app) item(ctx context.Context, args []string) error {
	var (
		price    float64
		bought   bool
		urgent   bool
		remove   bool
		claim    string
		sharedBy []string
	)
	var fs *pflag.FlagSet
	rest, err := parse("item", args, func(f *pflag.FlagSet) {
		fs = f
		f.Float64Var(&price, "price", 0, "price paid")
		f.BoolVar(&bought, "bought", false, "mark as bought")
		f.BoolVar(&urgent, "urgent", false, "mark as urgent")
		f.BoolVar(&remove, "remove", false, "remove the item")
		f.StringVar(&claim, "claim", "", "who gets the item")
		f.StringSliceVar(&sharedBy, "shared-by", nil, "who splits the cost")
	})
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return errors.New("usage: item <event> <name> [flags]")
	}
	ev, err := a.resolve(rest[0])
	if err != nil {
		return err
	}
	name := strings.Join(rest[1:], " ")

	items := models.CloneItems(ev.Items)
	idx := slices.IndexFunc(items, func(it models.Item) bool { return strings.EqualFold(it.Name, name) })
	if remove {
		if idx < 0 {
			return fmt.Errorf("no item %q", name)
		}
		items = slices.Delete(items, idx, idx+1)
		return a.svc.UpdateItems(ctx, ev.ID, items, a.durable)
	}
	if idx < 0 {
		items = append(items, models.Item{Name: name})
		idx = len(items) - 1
	}

	it := &items[idx]
	if fs.Changed("price") {
		it.Price = &price
	}
	if fs.Changed("bought") {
		it.Bought = bought
	}
	if fs.Changed("urgent") {
		it.Urgent = urgent
	}
	if fs.Changed("claim") {
		it.ClaimedBy = claim
	}
	if fs.Changed("shared-by") {
		it.SharedBy = sharedBy
	}
	return a.svc.UpdateItems(ctx, ev.ID, items, a.durable)
}

func (a *app) share(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: share <event> <person>...")
	}
	ev, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	participants := slices.Clone(ev.Participants)
	for _, p := range args[1:] {
		if !access.Contains(participants, p) {
			participants = append(participants, p)
		}
	}
	return a.svc.UpdateParticipants(ctx, ev.ID, participants, a.durable)
}

func (a *app) unshare(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: unshare <event> <person>...")
	}
	ev, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	drop := args[1:]
	participants := slices.DeleteFunc(slices.Clone(ev.Participants), func(p string) bool {
		return access.Contains(drop, p)
	})
	return a.svc.UpdateParticipants(ctx, ev.ID, participants, a.durable)
}

func (a *app) archive(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: archive <event>")
	}
	ev, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	return a.svc.ArchiveEvent(ctx, ev.ID, a.durable)
}

func (a *app) unarchive(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: unarchive <event>")
	}
	ev, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	return a.svc.UnarchiveEvent(ctx, ev.ID, a.durable)
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete <event>")
	}
	ev, err := a.resolve(args[0])
	if err != nil {
		return err
	}
	return a.svc.DeleteEvent(ctx, ev.ID, a.durable)
}

func (a *app) settle(ctx context.Context, args []string) error {
	var remote bool
	rest, err := parse("settle", args, func(fs *pflag.FlagSet) {
		fs.BoolVar(&remote, "remote", false, "compute on the backend")
	})
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("usage: settle <event> [--remote]")
	}
	ev, err := a.resolve(rest[0])
	if err != nil {
		return err
	}

	var result ledger.Result
	if remote {
		client := rpc.NewLedgerClient(http.DefaultClient, a.cfg.Client.BaseURL, a.cfg.Client.Token)
		result, err = client.Settle(ctx, ev.ID, a.svc.CurrentUser())
	} else {
		result, err = a.svc.Settle(ev.ID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("total spent: %s\n\n", result.TotalSpent)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICIPANT\tBALANCE")
	people := make([]string, 0, len(result.Balances))
	for p := range result.Balances {
		people = append(people, p)
	}
	slices.Sort(people)
	for _, p := range people {
		fmt.Fprintf(w, "%s\t%s\n", p, ledger.Amount(result.Balances[p]))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(result.Transactions) == 0 {
		fmt.Println("\nall settled")
		return nil
	}
	fmt.Println()
	for _, tx := range result.Transactions {
		fmt.Printf("%s pays %s %s\n", tx.From, tx.To, tx.Amount)
	}
	return nil
}

func (a *app) watch(ctx context.Context, _ []string) error {
	kinds := map[eventstore.ChangeKind]string{
		eventstore.Inserted: "added",
		eventstore.Updated:  "updated",
		eventstore.Removed:  "removed",
		eventstore.Reloaded: "reloaded",
		eventstore.Queued:   "queued",
	}
	cancel := a.svc.Subscribe(func(c eventstore.Change) {
		if c.Kind == eventstore.Reloaded {
			fmt.Printf("%s %d events\n", kinds[c.Kind], len(a.svc.Events()))
			return
		}
		title := ""
		if ev, err := a.svc.GetEventByID(c.EventID); err == nil {
			title = ev.Title
		}
		fmt.Printf("%s %s %s (%s)\n", kinds[c.Kind], shortID(c.EventID), title, c.Origin)
	})
	defer cancel()

	fmt.Fprintln(os.Stderr, "watching, press ctrl-c to stop")
	<-ctx.Done()
	return nil
}
