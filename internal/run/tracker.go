package run

import (
	"fmt"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/executor"
)

// Stage names in pipeline order.
const (
	StageDeltaDetection = "delta_detection"
	StageParseNormalize = "parse_normalize"
	StagePersist        = "persist"
	StageClassify       = "classify"
)

var Stages = [4]string{StageDeltaDetection, StageParseNormalize, StagePersist, StageClassify}

type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
)

func (s NodeStatus) Valid() bool {
	switch s {
	case NodePending, NodeRunning, NodeCompleted, NodeFailed:
		return true
	}
	return false
}

func (s NodeStatus) started() bool {
	return s == NodeRunning || s == NodeCompleted
}

type NodeProgress struct {
	Name      string     `json:"name"`
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Status    NodeStatus `json:"status"`
}

// Nodes holds the progress of the four stages, index 0 being delta detection.
type Nodes [4]NodeProgress

func NewNodes() Nodes {
	var n Nodes
	for i, name := range Stages {
		n[i] = NodeProgress{Name: name, Status: NodePending}
	}
	return n
}

// Percent is Σprocessed/Σtotal over the nodes that have been sized.
func (n Nodes) Percent() float64 {
	var processed, total int
	for _, node := range n {
		if node.Total <= 0 {
			continue
		}
		processed += min(node.Processed, node.Total)
		total += node.Total
	}
	if total == 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

// Validate checks that no stage has started while its predecessor is still
// pending.
func (n Nodes) Validate() error {
	for i := 1; i < len(n); i++ {
		if n[i].Status.started() && n[i-1].Status == NodePending {
			return orderingError(i+1, n[i-1])
		}
	}
	return nil
}

// Advance adds processedDelta to node (1-based) and moves it to status.
// A stage may only move once its predecessor completed.
func (n *Nodes) Advance(node, processedDelta int, status NodeStatus) error {
	i, err := nodeIndex(node)
	if err != nil {
		return err
	}
	if processedDelta < 0 {
		return apperr.Invalid("processed delta must not be negative")
	}
	if status == "" {
		status = n[i].Status
		if status == NodePending && processedDelta > 0 {
			status = NodeRunning
		}
	}
	if !status.Valid() {
		return apperr.Invalid("unknown node status %q", status)
	}
	if i > 0 && n[i-1].Status != NodeCompleted && (status != NodePending || processedDelta > 0) {
		return orderingError(node, n[i-1])
	}

	cur := n[i]
	switch {
	case cur.Status == NodeCompleted || cur.Status == NodeFailed:
		if status != cur.Status || processedDelta > 0 {
			return apperr.Transition("node "+cur.Name, fmt.Sprint(node), string(cur.Status), string(status))
		}
		return nil
	case status == NodePending && cur.Status != NodePending:
		return apperr.Transition("node "+cur.Name, fmt.Sprint(node), string(cur.Status), string(status))
	}

	processed := cur.Processed + processedDelta
	if cur.Total > 0 && processed > cur.Total {
		return apperr.Invalid("node %d: processed %d exceeds total %d", node, processed, cur.Total)
	}
	n[i].Processed = processed
	n[i].Status = status
	return nil
}

// Size sets the item total of node (1-based). A total below the processed
// count is rejected.
func (n *Nodes) Size(node, total int) error {
	i, err := nodeIndex(node)
	if err != nil {
		return err
	}
	if total < n[i].Processed {
		return apperr.Invalid("node %d: total %d below processed %d", node, total, n[i].Processed)
	}
	n[i].Total = total
	return nil
}

// FromReport builds Nodes from an executor snapshot. Nodes are matched by
// name, falling back to position for unnamed entries.
func FromReport(reported []executor.NodeStatus) (Nodes, error) {
	n := NewNodes()
	for pos, rn := range reported {
		i := pos
		if rn.Name != "" {
			i = stagePosition(rn.Name)
			if i < 0 {
				return Nodes{}, apperr.Invalid("unknown stage %q", rn.Name)
			}
		}
		if i >= len(n) {
			return Nodes{}, apperr.Invalid("executor reported %d nodes", len(reported))
		}
		status := NodeStatus(rn.Status)
		if status == "" {
			status = NodePending
		}
		if !status.Valid() {
			return Nodes{}, apperr.Invalid("stage %s: unknown status %q", n[i].Name, rn.Status)
		}
		n[i].Total = max(rn.Total, 0)
		n[i].Processed = max(rn.Processed, 0)
		n[i].Status = status
	}
	return n, n.Validate()
}

func stagePosition(name string) int {
	for i, s := range Stages {
		if s == name {
			return i
		}
	}
	return -1
}

func nodeIndex(node int) (int, error) {
	if node < 1 || node > len(Stages) {
		return 0, apperr.Invalid("node index %d out of range 1-%d", node, len(Stages))
	}
	return node - 1, nil
}

func orderingError(node int, prev NodeProgress) error {
	return apperr.TransitionBecause("node", fmt.Sprint(node), string(NodePending), string(NodeRunning),
		fmt.Sprintf("stage %s is %s", prev.Name, prev.Status))
}
