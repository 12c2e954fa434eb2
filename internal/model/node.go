package model

import "time"

// TestNode is a plain Node used by the replay driver and by embedders
// that have no node type of their own.
type TestNode struct {
	name     string
	children []Node
	started  time.Time
	finished time.Time
}

func NewTestNode(name string, children ...*TestNode) *TestNode {
	n := &TestNode{name: name}
	for _, c := range children {
		n.children = append(n.children, c)
	}
	return n
}

func (n *TestNode) Name() string            { return n.name }
func (n *TestNode) Nodes() []Node           { return n.children }
func (n *TestNode) TimeStarted() time.Time  { return n.started }
func (n *TestNode) TimeFinished() time.Time { return n.finished }

func (n *TestNode) SetTimeStarted(t time.Time)  { n.started = t }
func (n *TestNode) SetTimeFinished(t time.Time) { n.finished = t }

// Walk visits n and its descendants in pre-order.
func (n *TestNode) Walk(fn func(*TestNode)) {
	stack := []*TestNode{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(cur)
		for i := len(cur.children) - 1; i >= 0; i-- {
			if c, ok := cur.children[i].(*TestNode); ok {
				stack = append(stack, c)
			}
		}
	}
}

// TestResult is a plain Result.
type TestResult struct {
	status Status
	err    error
}

func NewTestResult(status Status, err error) TestResult {
	return TestResult{status: status, err: err}
}

func (r TestResult) Status() Status { return r.status }
func (r TestResult) Err() error     { return r.err }
