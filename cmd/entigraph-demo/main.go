// Command entigraph-demo drives a small in-memory entigraph.Registry through
// the lifecycle the library is built around: promote a root, mutate it,
// version it, inspect the diff, and walk the resulting tree.
package main

import (
	"fmt"
	"os"

	"github.com/coregx/entigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var registry *entigraph.Registry

func main() {
	log, _ := zap.NewDevelopment()
	registry = entigraph.NewRegistry(log)
	registry.SetObserver(entigraph.NewZapObserver(log))

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entigraph-demo",
		Short: "Drive an in-memory entigraph.Registry through a scripted scenario",
	}
	cmd.AddCommand(scenarioCmd())
	return cmd
}

func scenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario",
		Short: "Run a scripted promote -> mutate -> version -> diff -> tree walk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd)
		},
	}
}

func runScenario(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	ws := NewWorkspace("field-notes")
	n1 := NewNote("first", "hello")
	ws.Notes = append(ws.Notes, n1)
	ws.Starred.Add(n1)

	fmt.Fprintf(out, "created workspace lineage_id=%s\n", ws.LineageID)

	tree, err := registry.PromoteToRoot(ws)
	if err != nil {
		return fmt.Errorf("promote: %w", err)
	}
	fmt.Fprintf(out, "promoted: root_ecs_id=%s nodes=%d edges=%d\n", tree.RootEcsID, tree.NodeCount, tree.EdgeCount)

	oldRootEcsID := ws.EcsID
	n2 := NewNote("second", "world")
	ws.Notes = append(ws.Notes, n2)

	changed, err := registry.VersionEntity(ws, false)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	fmt.Fprintf(out, "versioned: changed=%v old_root_ecs_id=%s new_root_ecs_id=%s\n", changed, oldRootEcsID, ws.EcsID)

	oldTree, err := registry.GetStoredTree(oldRootEcsID)
	if err != nil {
		return fmt.Errorf("fetch old tree: %w", err)
	}
	newTree, err := registry.GetStoredTree(ws.EcsID)
	if err != nil {
		return fmt.Errorf("fetch new tree: %w", err)
	}

	diff, err := entigraph.Diff(newTree, oldTree)
	if err != nil {
		return fmt.Errorf("diff: %w", err)
	}
	fmt.Fprintf(out, "diff: modified=%d additions=%d edge_deltas=%d attr_deltas=%d pruned=%d\n",
		len(diff.Modified), diff.AdditionCount, diff.EdgeDeltaCount, diff.AttrDeltaCount, diff.PrunedCount)

	fmt.Fprintln(out, "tree:")
	for typeName, ids := range newTree.TypeIndex {
		fmt.Fprintf(out, "  %s: %d\n", typeName, len(ids))
	}
	return nil
}
