package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/hainguyen99-cdm/farcastertool/internal/validation"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// scriptFile is the YAML shape accepted by the run command.
type scriptFile struct {
	Shuffle bool            `yaml:"shuffle"`
	Loop    int             `yaml:"loop"`
	Actions []schema.Action `yaml:"actions"`
}

func runScript(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scriptPath := fs.String("script", "", "path to a YAML script file")
	accountList := fs.String("accounts", "", "comma-separated account IDs")
	shuffle := fs.Bool("shuffle", false, "shuffle actions (overrides script setting)")
	loop := fs.Int("loop", 0, "loop count (overrides script setting)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scriptPath == "" {
		return fmt.Errorf("run: -script is required")
	}
	if *accountList == "" {
		return fmt.Errorf("run: -accounts is required")
	}

	script, err := loadScript(*scriptPath)
	if err != nil {
		return err
	}
	if *shuffle {
		script.Shuffle = true
	}
	if *loop > 0 {
		script.Loop = *loop
	}
	if script.Loop < 1 {
		script.Loop = 1
	}

	validator, err := validation.New()
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}
	if err := validator.ValidateActions(script.Actions); err != nil {
		return fmt.Errorf("script %s: %w", *scriptPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.close()

	ids := splitIDs(*accountList)
	accounts, err := eng.store.ListAccounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}
	if len(accounts) != len(ids) {
		return fmt.Errorf("loading accounts: found %d of %d requested", len(accounts), len(ids))
	}

	results := eng.runner.RunScriptBatch(ctx, accounts, script.Actions, script.Shuffle, script.Loop)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}
	for _, res := range results {
		if res != nil && res.LoopsExecuted < script.Loop {
			return fmt.Errorf("one or more accounts did not complete the script")
		}
	}
	return nil
}

func loadScript(path string) (*scriptFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	var script scriptFile
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parsing script %s: %w", path, err)
	}
	if len(script.Actions) == 0 {
		return nil, fmt.Errorf("script %s defines no actions", path)
	}
	return &script, nil
}

func splitIDs(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
