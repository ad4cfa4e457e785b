package hcl_adapter

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclwrite"
)

// FindUniqueBlock searches a slice of blocks for all blocks of a given name.
// It returns a diagnostic error if more than one block of that name is found.
// If no block is found, it returns nil.
func FindUniqueBlock(blocks hcl.Blocks, name string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	var diags hcl.Diagnostics

	for _, block := range blocks {
		if block.Type != name {
			continue
		}
		if found != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate \"" + name + "\" block",
				Detail:   "Only one \"" + name + "\" block is allowed across all descriptor files; the first one is at " + found.DefRange.String() + ".",
				Subject:  &block.DefRange,
			})
			continue
		}
		found = block
	}

	return found, diags
}

// blocksOfType filters blocks by type, keeping their order.
func blocksOfType(blocks hcl.Blocks, name string) hcl.Blocks {
	var out hcl.Blocks
	for _, b := range blocks {
		if b.Type == name {
			out = append(out, b)
		}
	}
	return out
}

// traversalKey renders a traversal the way it is written in source, e.g.
// local.connection_arn.
func traversalKey(t hcl.Traversal) string {
	return string(hclwrite.TokensForTraversal(t).Bytes())
}
