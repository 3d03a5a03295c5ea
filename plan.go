package enhance

import (
	"fmt"
	"strings"
)

// PlanNodeType defines the type of operation a plan node represents.
type PlanNodeType string

const (
	BatchingType  PlanNodeType = "Batching"
	BatchCallType PlanNodeType = "BatchCall"
	AssembleType  PlanNodeType = "Assemble"
)

// PlanNode is one node of a run plan: the batching step, one node per
// expected API call, and the final assembly step.
type PlanNode struct {
	Type         PlanNodeType `json:"type"`
	BatchID      string       `json:"batchId,omitempty"`
	Model        string       `json:"model,omitempty"`
	Items        int          `json:"items,omitempty"`
	InputTokens  int          `json:"inputTokens,omitempty"`
	OutputTokens int          `json:"outputTokens,omitempty"`
	EstCost      float64      `json:"estCost"`
	Oversized    bool         `json:"oversized,omitempty"`
	Children     []*PlanNode  `json:"children,omitempty"`
}

// RunPlan is the dry-run view of a prospective run: what would be batched,
// called, and spent, without touching the API.
type RunPlan struct {
	Root         *PlanNode         `json:"root"`
	TotalItems   int               `json:"totalItems"`
	TotalBatches int               `json:"totalBatches"`
	Estimate     BatchCostEstimate `json:"estimate"`
	TimeEstimate string            `json:"timeEstimate"`
}

// Plan simulates a run over the chunks without making any API calls and
// returns per-batch token and cost estimates.
func (p *Processor) Plan(chunks []ContentChunk, optFns ...func(*Options)) (*RunPlan, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	estimate := opts.Estimator
	if estimate == nil {
		estimate = EstimateTokens
	}

	work := make([]ContentChunk, len(chunks))
	copy(work, chunks)
	for i := range work {
		work[i].SourceIndex = i
		if work[i].EstimatedTokens == 0 {
			work[i].EstimatedTokens = estimate(work[i].Text)
		}
	}

	batcher := NewBatcher(opts.MaxItems, opts.MaxTokens, estimate, p.log)
	batches := batcher.Split(work)

	root := &PlanNode{Type: BatchingType, Items: len(work)}
	for _, b := range batches {
		model, err := p.limiter.catalog.SelectModel(b.EstimatedTokens, opts.PreferredModel)
		if err != nil {
			return nil, fmt.Errorf("plan: batch %s: %w", b.BatchID, err)
		}
		outputTokens := int(float64(b.EstimatedTokens) * outputExpansion)
		node := &PlanNode{
			Type:         BatchCallType,
			BatchID:      b.BatchID,
			Model:        model.Name,
			Items:        len(b.Chunks),
			InputTokens:  b.EstimatedTokens,
			OutputTokens: outputTokens,
			EstCost:      EstimateCost(b.EstimatedTokens, outputTokens, model),
			Oversized:    b.Oversized,
		}
		root.Children = append(root.Children, node)
		root.EstCost += node.EstCost
	}
	root.Children = append(root.Children, &PlanNode{Type: AssembleType, Items: len(work)})

	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	model, err := p.limiter.catalog.SelectModel(0, opts.PreferredModel)
	if err != nil {
		return nil, err
	}
	return &RunPlan{
		Root:         root,
		TotalItems:   len(work),
		TotalBatches: len(batches),
		Estimate:     EstimateBatchCost(work, model),
		TimeEstimate: EstimateProcessingTime(len(work), maxItems),
	}, nil
}

// String renders the plan as an ASCII tree.
func (rp *RunPlan) String() string {
	var sb strings.Builder
	sb.WriteString("Enhancement Run Plan (estimated costs)\n")
	formatNodeAsText(rp.Root, "", true, &sb)
	fmt.Fprintf(&sb, "total: %d items in %d batches, ~$%.4f, %s\n",
		rp.TotalItems, rp.TotalBatches, rp.Root.EstCost, rp.TimeEstimate)
	return sb.String()
}

// formatNodeAsText recursively formats a node and its children as text.
func formatNodeAsText(node *PlanNode, prefix string, isLast bool, sb *strings.Builder) {
	connector := "├─ "
	if isLast {
		connector = "└─ "
	}
	if prefix == "" {
		connector = ""
	}

	sb.WriteString(fmt.Sprintf("%s%s%s\n", prefix, connector, formatNodeInfo(node)))

	childPrefix := prefix
	if prefix == "" {
		childPrefix = "  "
	} else {
		if isLast {
			childPrefix += "   "
		} else {
			childPrefix += "│  "
		}
	}

	for i, child := range node.Children {
		formatNodeAsText(child, childPrefix, i == len(node.Children)-1, sb)
	}
}

// formatNodeInfo formats one node's line.
func formatNodeInfo(node *PlanNode) string {
	parts := []string{string(node.Type)}
	var details []string
	if node.Model != "" {
		details = append(details, fmt.Sprintf("model: %s", node.Model))
	}
	if node.Items > 0 {
		details = append(details, fmt.Sprintf("items: %d", node.Items))
	}
	if node.InputTokens > 0 {
		details = append(details, fmt.Sprintf("in: %d tok", node.InputTokens))
	}
	if node.OutputTokens > 0 {
		details = append(details, fmt.Sprintf("out: %d tok", node.OutputTokens))
	}
	if node.EstCost > 0 {
		details = append(details, fmt.Sprintf("cost: $%.4f", node.EstCost))
	}
	if node.Oversized {
		details = append(details, "oversized")
	}
	if len(details) > 0 {
		parts = append(parts, "("+strings.Join(details, ", ")+")")
	}
	return strings.Join(parts, " ")
}
