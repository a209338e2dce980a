package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rflorenc/state-handoff/internal/client"
	"github.com/rflorenc/state-handoff/internal/models"
)

const requestTimeout = 30 * time.Second

// Remote holds the flags shared by commands that talk to a running server.
type Remote struct {
	Server   string `help:"handoffd server URL" env:"HANDOFF_SERVER" default:"http://localhost:8080"`
	User     string `short:"u" help:"Account name" env:"HANDOFF_USER"`
	Password string `short:"p" help:"Account password" env:"HANDOFF_PASSWORD"`
}

func (r Remote) client() *client.Client {
	return client.New(r.Server, r.User, r.Password)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// rawMsg parses a JSON message given on the command line.
func rawMsg(s string) (json.RawMessage, error) {
	if s == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("message is not valid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// InstancesCmd implements 'instances'.
type InstancesCmd struct {
	Remote `embed:""`
}

func (c *InstancesCmd) Run() error {
	ctx, cancel := withTimeout()
	defer cancel()
	list, err := c.client().Instances(ctx)
	if err != nil {
		return err
	}
	for _, inst := range list {
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\n", inst.Address, inst.Kind, inst.Creator, inst.Label)
	}
	return nil
}

// InstantiateCmd implements 'instantiate'.
type InstantiateCmd struct {
	Remote `embed:""`

	Kind  string `arg:"" help:"Service kind (source or target)"`
	Msg   string `arg:"" optional:"" help:"Init message as JSON"`
	Label string `help:"Human readable label"`
}

func (c *InstantiateCmd) Run() error {
	msg, err := rawMsg(c.Msg)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	inst, err := c.client().Instantiate(ctx, c.Kind, c.Label, msg)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, inst)
}

// ExecuteCmd implements 'execute'.
type ExecuteCmd struct {
	Remote `embed:""`

	Address string `arg:"" help:"Instance address or label"`
	Msg     string `arg:"" help:"Execute message as JSON"`
}

func (c *ExecuteCmd) Run() error {
	msg, err := rawMsg(c.Msg)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	resp, err := c.client().Execute(ctx, models.Addr(c.Address), msg)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, resp)
}

// QueryCmd implements 'query'.
type QueryCmd struct {
	Remote `embed:""`

	Address string `arg:"" help:"Instance address or label"`
	Msg     string `arg:"" help:"Query message as JSON"`
}

func (c *QueryCmd) Run() error {
	msg, err := rawMsg(c.Msg)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	raw, err := c.client().Query(ctx, models.Addr(c.Address), msg)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, raw)
}

// MigrateCmd implements 'migrate'.
type MigrateCmd struct {
	Remote `embed:""`

	Source string `arg:"" help:"Source instance address or label"`
	Target string `arg:"" help:"Target instance address or label"`
}

func (c *MigrateCmd) Run() error {
	ctx, cancel := withTimeout()
	defer cancel()
	resp, err := c.client().Migrate(ctx, models.Addr(c.Source), models.Addr(c.Target))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, resp)
}

// PullCmd implements 'pull'.
type PullCmd struct {
	Remote `embed:""`

	Target string `arg:"" help:"Target instance address or label"`
}

func (c *PullCmd) Run() error {
	ctx, cancel := withTimeout()
	defer cancel()
	resp, err := c.client().Pull(ctx, models.Addr(c.Target))
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, resp)
}

// EventsCmd implements 'events'.
type EventsCmd struct {
	Remote `embed:""`

	Address string `arg:"" help:"Instance address or label"`
	Offset  int    `help:"Skip the first N events"`
	JSON    bool   `help:"Print events as JSON"`
}

func (c *EventsCmd) Run() error {
	ctx, cancel := withTimeout()
	defer cancel()
	evs, err := c.client().Events(ctx, models.Addr(c.Address), c.Offset)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(os.Stdout, evs)
	}
	for _, e := range evs {
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\n", e.Time.Format(time.RFC3339), e.Type, e.Sender, e.Attr("action"))
	}
	return nil
}
