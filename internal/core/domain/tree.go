package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// NodeID identifies a thought node inside one tree
type NodeID string

// NodeState is the lifecycle of a thought node:
// active -> evaluated -> pruned | best_path | completed
type NodeState string

const (
	NodeActive    NodeState = "active"
	NodeEvaluated NodeState = "evaluated"
	NodePruned    NodeState = "pruned"
	NodeBestPath  NodeState = "best_path"
	NodeCompleted NodeState = "completed"
)

// ExplorationStrategy decides which node a tree search expands next
type ExplorationStrategy string

const (
	StrategyBreadthFirst ExplorationStrategy = "breadth_first"
	StrategyDepthFirst   ExplorationStrategy = "depth_first"
	StrategyBestFirst    ExplorationStrategy = "best_first"
	StrategyBeam         ExplorationStrategy = "beam"
	StrategyMonteCarlo   ExplorationStrategy = "monte_carlo"
)

// Valid reports whether s is a known strategy.
func (s ExplorationStrategy) Valid() bool {
	switch s {
	case StrategyBreadthFirst, StrategyDepthFirst, StrategyBestFirst, StrategyBeam, StrategyMonteCarlo:
		return true
	}
	return false
}

// ThoughtNode is one scored thought. Parent and children are ids into the
// owning tree's node map, never pointers.
type ThoughtNode struct {
	ID        NodeID    `json:"id"`
	ParentID  NodeID    `json:"parent_id,omitempty"` // empty at the root
	Depth     int       `json:"depth"`
	Text      string    `json:"text"`
	Type      string    `json:"type,omitempty"`
	Score     float64   `json:"score"`
	Reasoning string    `json:"reasoning,omitempty"`
	Children  []NodeID  `json:"children,omitempty"`
	State     NodeState `json:"state"`
	Visits    int       `json:"visits"`
	ValueSum  float64   `json:"value_sum"`
	Seq       int       `json:"seq"` // creation order, used for stable tie-breaking
	CreatedAt time.Time `json:"created_at"`
}

// Evaluated reports whether the node carries a usable score.
func (n *ThoughtNode) Evaluated() bool {
	switch n.State {
	case NodeEvaluated, NodeBestPath, NodeCompleted:
		return true
	}
	return false
}

// MeanValue is the average back-propagated value, 0 before any visit.
func (n *ThoughtNode) MeanValue() float64 {
	if n.Visits == 0 {
		return 0
	}
	return n.ValueSum / float64(n.Visits)
}

// ReasoningTree is an arena of thought nodes keyed by id.
type ReasoningTree struct {
	ID        string                  `json:"id"`
	Goal      string                  `json:"goal"`
	Nodes     map[NodeID]*ThoughtNode `json:"nodes"`
	RootID    NodeID                  `json:"root_id"`
	Strategy  ExplorationStrategy     `json:"strategy"`
	MaxDepth  int                     `json:"max_depth"`
	MaxNodes  int                     `json:"max_nodes"`
	BestPath  []NodeID                `json:"best_path,omitempty"`
	Completed bool                    `json:"completed"`
	NextSeq   int                     `json:"next_seq"`
	CreatedAt time.Time               `json:"created_at"`
}

// NewReasoningTree creates a tree whose root holds the goal. The root counts
// towards MaxNodes.
func NewReasoningTree(goal string, strategy ExplorationStrategy, maxDepth, maxNodes int) *ReasoningTree {
	if !strategy.Valid() {
		strategy = StrategyBestFirst
	}
	t := &ReasoningTree{
		ID:        uuid.New().String(),
		Goal:      goal,
		Nodes:     make(map[NodeID]*ThoughtNode),
		Strategy:  strategy,
		MaxDepth:  max(1, maxDepth),
		MaxNodes:  max(1, maxNodes),
		CreatedAt: time.Now(),
	}
	root := t.newNode("", 0, goal, "goal")
	t.RootID = root.ID
	return t
}

func (t *ReasoningTree) newNode(parent NodeID, depth int, text, typ string) *ThoughtNode {
	n := &ThoughtNode{
		ID:        NodeID(uuid.New().String()),
		ParentID:  parent,
		Depth:     depth,
		Text:      text,
		Type:      typ,
		State:     NodeActive,
		Seq:       t.NextSeq,
		CreatedAt: time.Now(),
	}
	t.NextSeq++
	t.Nodes[n.ID] = n
	return n
}

// Root returns the root node.
func (t *ReasoningTree) Root() *ThoughtNode {
	return t.Nodes[t.RootID]
}

// Node looks up a node by id.
func (t *ReasoningTree) Node(id NodeID) (*ThoughtNode, bool) {
	n, ok := t.Nodes[id]
	return n, ok
}

// Size is the number of nodes, pruned ones included.
func (t *ReasoningTree) Size() int {
	return len(t.Nodes)
}

// Full reports whether the node budget is spent.
func (t *ReasoningTree) Full() bool {
	return len(t.Nodes) >= t.MaxNodes
}

// AddChild attaches a new thought under parent. The tree is left untouched
// when the node budget is spent, the parent sits at MaxDepth, or the
// parent is missing or pruned.
func (t *ReasoningTree) AddChild(parent NodeID, text, typ string) (*ThoughtNode, error) {
	p, ok := t.Nodes[parent]
	if !ok {
		return nil, ErrNodeNotFound
	}
	if p.State == NodePruned {
		return nil, ErrNodePruned
	}
	if t.Full() {
		return nil, ErrTreeFull
	}
	if p.Depth >= t.MaxDepth {
		return nil, ErrMaxDepth
	}
	child := t.newNode(parent, p.Depth+1, text, typ)
	p.Children = append(p.Children, child.ID)
	return child, nil
}

// Evaluate scores a node. Scores are clamped to [0,1]; a pruned node keeps
// its pruned state.
func (t *ReasoningTree) Evaluate(id NodeID, score float64, reasoning string) error {
	n, ok := t.Nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	n.Score = Clamp01(score)
	n.Reasoning = reasoning
	if n.State != NodePruned {
		n.State = NodeEvaluated
	}
	return nil
}

// Backpropagate adds value to the node and every ancestor.
func (t *ReasoningTree) Backpropagate(id NodeID, value float64) {
	for cur, ok := t.Nodes[id]; ok; cur, ok = t.Nodes[cur.ParentID] {
		cur.Visits++
		cur.ValueSum += Clamp01(value)
		if cur.ParentID == "" {
			return
		}
	}
}

// Prune marks a node and its entire subtree pruned. Nodes stay in the
// arena and remain addressable.
func (t *ReasoningTree) Prune(id NodeID) error {
	if _, ok := t.Nodes[id]; !ok {
		return ErrNodeNotFound
	}
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := t.Nodes[cur]
		if !ok {
			continue
		}
		n.State = NodePruned
		stack = append(stack, n.Children...)
	}
	return nil
}

// PathTo returns the node ids from the root down to id.
func (t *ReasoningTree) PathTo(id NodeID) ([]NodeID, error) {
	var rev []NodeID
	seen := make(map[NodeID]bool)
	for cur := id; cur != ""; {
		n, ok := t.Nodes[cur]
		if !ok {
			return nil, ErrNodeNotFound
		}
		if seen[cur] {
			break
		}
		seen[cur] = true
		rev = append(rev, cur)
		cur = n.ParentID
	}
	path := make([]NodeID, len(rev))
	for i, nid := range rev {
		path[len(rev)-1-i] = nid
	}
	return path, nil
}

// Frontier lists nodes that may still be expanded: not pruned, below
// MaxDepth and without children. Ordered by creation.
func (t *ReasoningTree) Frontier() []*ThoughtNode {
	var out []*ThoughtNode
	for _, n := range t.Nodes {
		if n.State == NodePruned || n.Depth >= t.MaxDepth || len(n.Children) > 0 {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// BestNode returns the highest-scoring evaluated, unpruned node other than
// the root. Ties go to the older node.
func (t *ReasoningTree) BestNode() (*ThoughtNode, bool) {
	var best *ThoughtNode
	for _, n := range t.Nodes {
		if n.ID == t.RootID || n.State == NodePruned || !n.Evaluated() {
			continue
		}
		if best == nil || n.Score > best.Score || (n.Score == best.Score && n.Seq < best.Seq) {
			best = n
		}
	}
	return best, best != nil
}

// Finalize records the best path and settles node states: nodes on the path
// become best_path, every other evaluated unpruned node becomes completed.
func (t *ReasoningTree) Finalize() []NodeID {
	t.Completed = true
	best, ok := t.BestNode()
	if !ok {
		t.BestPath = nil
		return nil
	}
	path, err := t.PathTo(best.ID)
	if err != nil {
		return nil
	}
	onPath := make(map[NodeID]bool, len(path))
	for _, id := range path {
		onPath[id] = true
	}
	for id, n := range t.Nodes {
		switch {
		case onPath[id] && n.State != NodePruned:
			n.State = NodeBestPath
		case n.Evaluated():
			n.State = NodeCompleted
		}
	}
	t.BestPath = path
	return path
}

// Clone returns a deep copy.
func (t *ReasoningTree) Clone() *ReasoningTree {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Nodes = make(map[NodeID]*ThoughtNode, len(t.Nodes))
	for id, n := range t.Nodes {
		nc := *n
		nc.Children = append([]NodeID(nil), n.Children...)
		cp.Nodes[id] = &nc
	}
	cp.BestPath = append([]NodeID(nil), t.BestPath...)
	return &cp
}
