// Package replay drives a report store from a YAML scenario, so that
// frameworks outside Go can feed the reporter through a file.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/teacupreport/internal/model"
)

// Op names a lifecycle callback.
type Op string

const (
	OpInitialize  Op = "initialize"
	OpInitialized Op = "initialized"
	OpStarted     Op = "started"
	OpLog         Op = "log"
	OpSkipped     Op = "skipped"
	OpFinished    Op = "finished"
	OpTerminated  Op = "terminated"
)

// Scenario is a node tree plus the ordered callbacks to issue against it.
type Scenario struct {
	Nodes  []NodeSpec `yaml:"nodes"`
	Events []Event    `yaml:"events"`
}

type NodeSpec struct {
	Name     string     `yaml:"name"`
	Children []NodeSpec `yaml:"children,omitempty"`
}

// Event is one callback. Which fields matter depends on Op:
// initialized takes Nodes (default: every top-level node), started and
// finished take Node and At, log takes Level, Message, Params, At and an
// optional Node, skipped takes Node and Reason, finished takes Status and
// Error.
type Event struct {
	Op      Op        `yaml:"op"`
	Node    string    `yaml:"node,omitempty"`
	Nodes   []string  `yaml:"nodes,omitempty"`
	At      time.Time `yaml:"at,omitempty"`
	Level   string    `yaml:"level,omitempty"`
	Message string    `yaml:"message,omitempty"`
	Params  []any     `yaml:"params,omitempty"`
	Reason  string    `yaml:"reason,omitempty"`
	Status  string    `yaml:"status,omitempty"`
	Error   string    `yaml:"error,omitempty"`
}

// Recorder receives the callbacks. *report.Store implements it.
type Recorder interface {
	Initialize(ctx context.Context)
	Initialized(ctx context.Context, nodes []model.Node)
	Started(ctx context.Context, n model.Node)
	Log(ctx context.Context, rec model.LogRecord, n model.Node)
	Skipped(ctx context.Context, n model.Node, reason string)
	Finished(ctx context.Context, n model.Node, res model.Result)
	Terminated(ctx context.Context)
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Validate checks node names are unique and non-empty, and that every
// event names a known op and known nodes.
func (sc *Scenario) Validate() error {
	names := make(map[string]bool)
	stack := append([]NodeSpec(nil), sc.Nodes...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if strings.TrimSpace(n.Name) == "" {
			return errors.New("node requires name")
		}
		if names[n.Name] {
			return fmt.Errorf("duplicate node %q", n.Name)
		}
		names[n.Name] = true
		stack = append(stack, n.Children...)
	}

	known := func(i int, name string) error {
		if !names[name] {
			return fmt.Errorf("event %d references unknown node %q", i, name)
		}
		return nil
	}
	for i, e := range sc.Events {
		switch e.Op {
		case OpInitialize, OpTerminated:
		case OpInitialized:
			for _, n := range e.Nodes {
				if err := known(i, n); err != nil {
					return err
				}
			}
		case OpLog:
			if e.Node != "" {
				if err := known(i, e.Node); err != nil {
					return err
				}
			}
		case OpStarted, OpSkipped:
			if err := known(i, e.Node); err != nil {
				return err
			}
		case OpFinished:
			if err := known(i, e.Node); err != nil {
				return err
			}
			if _, err := model.ParseStatus(e.Status); err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
		default:
			return fmt.Errorf("event %d has unknown op %q", i, e.Op)
		}
	}
	return nil
}

// Run issues the scenario's events against r in order. It stops early
// only when ctx is done.
func Run(ctx context.Context, r Recorder, sc *Scenario) error {
	nodes := make(map[string]*model.TestNode)
	roots := make([]model.Node, 0, len(sc.Nodes))
	for _, spec := range sc.Nodes {
		roots = append(roots, build(spec, nodes))
	}

	for _, e := range sc.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch e.Op {
		case OpInitialize:
			r.Initialize(ctx)
		case OpInitialized:
			selected := roots
			if len(e.Nodes) > 0 {
				selected = make([]model.Node, 0, len(e.Nodes))
				for _, name := range e.Nodes {
					selected = append(selected, nodes[name])
				}
			}
			r.Initialized(ctx, selected)
		case OpStarted:
			n := nodes[e.Node]
			n.SetTimeStarted(timeOrNow(e.At))
			r.Started(ctx, n)
		case OpLog:
			rec := model.LogRecord{
				Level:   model.Level(strings.ToUpper(e.Level)),
				Message: e.Message,
				Params:  e.Params,
				Millis:  timeOrNow(e.At).UnixMilli(),
			}
			if rec.Level == "" {
				rec.Level = model.LevelInfo
			}
			var n model.Node
			if e.Node != "" {
				n = nodes[e.Node]
			}
			r.Log(ctx, rec, n)
		case OpSkipped:
			r.Skipped(ctx, nodes[e.Node], e.Reason)
		case OpFinished:
			n := nodes[e.Node]
			n.SetTimeFinished(timeOrNow(e.At))
			status, _ := model.ParseStatus(e.Status)
			var err error
			if e.Error != "" {
				err = errors.New(e.Error)
			}
			r.Finished(ctx, n, model.NewTestResult(status, err))
		case OpTerminated:
			r.Terminated(ctx)
		}
	}
	return nil
}

func build(spec NodeSpec, index map[string]*model.TestNode) *model.TestNode {
	children := make([]*model.TestNode, 0, len(spec.Children))
	for _, c := range spec.Children {
		children = append(children, build(c, index))
	}
	n := model.NewTestNode(spec.Name, children...)
	index[spec.Name] = n
	return n
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
