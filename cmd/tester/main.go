package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gookit/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

type scenario struct {
	name string
	run  func(cfg Config, suffix string) error
}

type outcome struct {
	name     string
	err      error
	duration time.Duration
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	scenarios := []scenario{
		{name: "basics", run: basics},
		{name: "history", run: history},
		{name: "mute", run: mute},
		{name: "private", run: private},
		{name: "malformed", run: malformed},
		{name: "stress", run: stress},
	}
	if cfg.Admin {
		scenarios = append(scenarios, scenario{name: "kick", run: kick})
	}

	var outcomes []outcome
	for _, s := range scenarios {
		// Unique names keep scenarios independent of what a previous run left behind
		suffix := uuid.NewString()[:8]
		start := time.Now()
		err := s.run(cfg, suffix)
		outcomes = append(outcomes, outcome{name: s.name, err: err, duration: time.Since(start)})
	}

	if failed := render(cfg, outcomes); failed > 0 {
		os.Exit(1)
	}
}

func render(cfg Config, outcomes []outcome) int {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Scenario", "Result", "Duration", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	failed := 0
	for _, o := range outcomes {
		result, detail := "PASS", ""
		if o.err != nil {
			failed++
			result, detail = "FAIL", o.err.Error()
		}
		if cfg.Colours {
			result = paint(result)
		}
		table.Append([]string{o.name, result, o.duration.Round(time.Millisecond).String(), detail})
	}
	table.Render()
	fmt.Printf("%d/%d scenarios passed against %s\n", len(outcomes)-failed, len(outcomes), cfg.RelayAddr)
	return failed
}

func paint(result string) string {
	if result == "PASS" {
		return color.New(color.FgGreen, color.OpBold).Render(result)
	}
	return color.New(color.FgRed, color.OpBold).Render(result)
}

func connect(cfg Config, name string) (*client, error) {
	c, err := dial(name, cfg.RelayAddr, 0, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if err := c.send("conn$" + name); err != nil {
		return nil, err
	}
	if err := c.expect(fmt.Sprintf("SYS$Hi %s, you have successfully connected to the chat", name)); err != nil {
		c.close()
		return nil, err
	}
	return c, nil
}

func basics(cfg Config, suffix string) error {
	alice, err := connect(cfg, "alice-"+suffix)
	if err != nil {
		return err
	}
	defer alice.close()
	bob, err := connect(cfg, "bob-"+suffix)
	if err != nil {
		return err
	}
	defer bob.close()

	if err := alice.expect(fmt.Sprintf("SYS$%s has joined the chat", bob.name)); err != nil {
		return err
	}
	if err := alice.send("say$hi"); err != nil {
		return err
	}
	if err := bob.expect(alice.name + ": hi"); err != nil {
		return err
	}
	if err := bob.send("rename$robert-" + suffix); err != nil {
		return err
	}
	if err := bob.expect("SYS$You are now known as robert-" + suffix); err != nil {
		return err
	}
	return alice.expect(fmt.Sprintf("SYS$%s is now known as robert-%s", bob.name, suffix))
}

func history(cfg Config, suffix string) error {
	alice, err := connect(cfg, "alice-"+suffix)
	if err != nil {
		return err
	}
	defer alice.close()
	text := "remember " + suffix
	if err := alice.send("say$" + text); err != nil {
		return err
	}
	// Give the relay a moment to record the message before someone joins
	time.Sleep(100 * time.Millisecond)

	carol, err := connect(cfg, "carol-"+suffix)
	if err != nil {
		return err
	}
	defer carol.close()
	return carol.expect(fmt.Sprintf("[History] %s: %s", alice.name, text))
}

func mute(cfg Config, suffix string) error {
	alice, err := connect(cfg, "alice-"+suffix)
	if err != nil {
		return err
	}
	defer alice.close()
	bob, err := connect(cfg, "bob-"+suffix)
	if err != nil {
		return err
	}
	defer bob.close()

	if err := bob.send("mute$" + alice.name); err != nil {
		return err
	}
	if err := bob.expect("SYS$You have muted " + alice.name); err != nil {
		return err
	}
	if err := alice.send("say$you cannot hear me"); err != nil {
		return err
	}
	if err := bob.expectNothing(300 * time.Millisecond); err != nil {
		return err
	}
	if err := bob.send("unmute$" + alice.name); err != nil {
		return err
	}
	if err := bob.expect("SYS$You have unmuted " + alice.name); err != nil {
		return err
	}
	if err := alice.send("say$and now?"); err != nil {
		return err
	}
	return bob.expect(alice.name + ": and now?")
}

func private(cfg Config, suffix string) error {
	alice, err := connect(cfg, "alice-"+suffix)
	if err != nil {
		return err
	}
	defer alice.close()
	bob, err := connect(cfg, "bob-"+suffix)
	if err != nil {
		return err
	}
	defer bob.close()

	if err := alice.send(fmt.Sprintf("sayto$%s psst", bob.name)); err != nil {
		return err
	}
	if err := bob.expect(alice.name + " (private): psst"); err != nil {
		return err
	}
	if err := alice.expect("SYS$Message delivered to " + bob.name); err != nil {
		return err
	}
	if err := alice.send("sayto$nobody-" + suffix + " hello"); err != nil {
		return err
	}
	return alice.expect(fmt.Sprintf("ERR$Recipient 'nobody-%s' not found", suffix))
}

func malformed(cfg Config, suffix string) error {
	c, err := dial("anonymous-"+suffix, cfg.RelayAddr, 0, cfg.Timeout)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.send("hello"); err != nil {
		return err
	}
	if err := c.expect("ERR$Malformed request (no $): hello"); err != nil {
		return err
	}
	if err := c.send("say$hello"); err != nil {
		return err
	}
	if err := c.expect("ERR$You must conn$<name> before sending messages"); err != nil {
		return err
	}
	if err := c.send("dance$now"); err != nil {
		return err
	}
	return c.expect("ERR$Unknown command 'dance'")
}

// stress connects a crowd and checks that one message reaches every member.
func stress(cfg Config, suffix string) error {
	const crowd = 20
	clients := make([]*client, 0, crowd)
	defer func() {
		for _, c := range clients {
			c.close()
		}
	}()
	for i := 0; i < crowd; i++ {
		c, err := connect(cfg, fmt.Sprintf("user%d-%s", i, suffix))
		if err != nil {
			return err
		}
		clients = append(clients, c)
	}

	speaker := clients[0]
	if err := speaker.send("say$hello crowd"); err != nil {
		return err
	}
	for _, c := range clients[1:] {
		if err := c.expect(speaker.name + ": hello crowd"); err != nil {
			return err
		}
	}
	return nil
}

func kick(cfg Config, suffix string) error {
	alice, err := connect(cfg, "alice-"+suffix)
	if err != nil {
		return err
	}
	defer alice.close()

	admin, err := dial("admin", cfg.RelayAddr, cfg.AdminPort, cfg.Timeout)
	if err != nil {
		return fmt.Errorf("binding admin port %d: %w", cfg.AdminPort, err)
	}
	defer func() { _ = admin.conn.Close() }()

	if err := admin.send("kick$" + alice.name); err != nil {
		return err
	}
	return alice.expect("SYS$You have been removed from the chat")
}
