// Sable CLI - runs Sable programs and exercises the memory manager.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/sable-lang/sable/interp"
	"github.com/sable-lang/sable/interp/heapdump"
	"github.com/sable-lang/sable/manifest"
	"github.com/sable-lang/sable/pkg/ast"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = quiet)")
	configDir := flag.String("config", ".", "Directory to search for sable.toml")
	stress := flag.Int("stress", 0, "Run the stress workload for N iterations")
	snapshot := flag.Bool("snapshot", false, "Save a heap snapshot after the run")
	listSnapshots := flag.Bool("list-snapshots", false, "List stored heap snapshots and exit")
	restoreID := flag.String("restore", "", "Restore the heap from a stored snapshot before running")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sable [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs the Sable runtime demo workload and reports collector statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sable                      # Run the demo program\n")
		fmt.Fprintf(os.Stderr, "  sable -stress 10000        # Cycle-churn stress run\n")
		fmt.Fprintf(os.Stderr, "  sable -snapshot            # Save the final heap to the snapshot store\n")
		fmt.Fprintf(os.Stderr, "  sable -list-snapshots      # Show stored snapshots\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	m, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading sable.toml: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	}

	if *listSnapshots {
		if err := printSnapshots(m); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	gc := interp.NewGarbageCollector(m.Gc)

	if *restoreID != "" {
		if err := restoreHeap(gc, m, *restoreID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	in, err := interp.NewInterp(gc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer in.Close()

	prog := demoProgram()
	if *stress > 0 {
		prog = stressProgram(*stress)
	}

	start := time.Now()
	result, err := in.Run(prog)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Runtime error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("result: %s (%.2fms)\n", gc.Render(result), float64(elapsed.Microseconds())/1000)
	in.Release(result)

	cstats := gc.Collect()
	stats := gc.Stats()
	fmt.Printf("allocations: %d, deallocations: %d, live: %d\n",
		stats.Allocations, stats.Deallocations, stats.LiveObjects)
	fmt.Printf("collections: %d, cycles detected: %d, reclaimed last pass: %d\n",
		stats.CollectionsPerformed, stats.CyclesDetected, cstats.Reclaimed)
	fmt.Printf("memory: %d bytes live, %d peak\n", stats.TotalMemory, stats.PeakMemory)

	if *snapshot {
		if err := saveSnapshot(gc, m); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving snapshot: %v\n", err)
			os.Exit(1)
		}
	}
}

func openStore(m *manifest.Manifest) (*heapdump.Store, error) {
	path := m.SnapshotDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return heapdump.OpenStore(path)
}

func saveSnapshot(gc *interp.GarbageCollector, m *manifest.Manifest) error {
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	snap := heapdump.Capture(gc)
	if err := store.Save(snap); err != nil {
		return err
	}
	fmt.Printf("snapshot %s saved (%d objects)\n", snap.ID, len(snap.Objects))
	return nil
}

func restoreHeap(gc *interp.GarbageCollector, m *manifest.Manifest, id string) error {
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load(id)
	if err != nil {
		return err
	}
	return heapdump.Restore(gc, snap)
}

func printSnapshots(m *manifest.Manifest) error {
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  %d objects  %d bytes\n",
			e.ID, e.CreatedAt.Format(time.RFC3339), e.Objects, e.Bytes)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Workloads
// ---------------------------------------------------------------------------

// demoProgram builds a small program that exercises closures, containers,
// and a reference cycle:
//
//	let makeCounter = fn(start) {
//	    let n = start
//	    fn() { n = n + 1 n }
//	}
//	let tick = makeCounter(10)
//	tick() tick()
//	let a = {name: "a"} let b = {name: "b"}
//	a.peer = b b.peer = a
//	a = null b = null
//	gcCollect()
//	tick()
func demoProgram() *ast.Program {
	counterBody := &ast.BlockStmt{Stmts: []ast.Stmt{
		&ast.LetStmt{Name: "n", Value: &ast.Ident{Name: "start"}},
		&ast.ExprStmt{Expr: &ast.FuncLit{Body: &ast.BlockStmt{Stmts: []ast.Stmt{
			&ast.AssignStmt{
				Target: &ast.Ident{Name: "n"},
				Value:  &ast.BinaryExpr{Op: "+", Left: &ast.Ident{Name: "n"}, Right: &ast.IntLit{Value: 1}},
			},
			&ast.ExprStmt{Expr: &ast.Ident{Name: "n"}},
		}}}},
	}}

	return &ast.Program{Stmts: []ast.Stmt{
		&ast.LetStmt{Name: "makeCounter", Value: &ast.FuncLit{
			Params: []string{"start"},
			Body:   counterBody,
		}},
		&ast.LetStmt{Name: "tick", Value: &ast.CallExpr{
			Callee: &ast.Ident{Name: "makeCounter"},
			Args:   []ast.Expr{&ast.IntLit{Value: 10}},
		}},
		&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.Ident{Name: "tick"}}},
		&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.Ident{Name: "tick"}}},

		&ast.LetStmt{Name: "a", Value: &ast.ObjectLit{
			Keys: []string{"name"}, Values: []ast.Expr{&ast.StringLit{Value: "a"}},
		}},
		&ast.LetStmt{Name: "b", Value: &ast.ObjectLit{
			Keys: []string{"name"}, Values: []ast.Expr{&ast.StringLit{Value: "b"}},
		}},
		&ast.AssignStmt{
			Target: &ast.MemberExpr{Target: &ast.Ident{Name: "a"}, Name: "peer"},
			Value:  &ast.Ident{Name: "b"},
		},
		&ast.AssignStmt{
			Target: &ast.MemberExpr{Target: &ast.Ident{Name: "b"}, Name: "peer"},
			Value:  &ast.Ident{Name: "a"},
		},
		&ast.AssignStmt{Target: &ast.Ident{Name: "a"}, Value: &ast.NullLit{}},
		&ast.AssignStmt{Target: &ast.Ident{Name: "b"}, Value: &ast.NullLit{}},
		&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.Ident{Name: "gcCollect"}}},

		&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.Ident{Name: "tick"}}},
	}}
}

// stressProgram builds a loop that churns self-referential pairs so
// every iteration leaves a dead two-object cycle behind:
//
//	let i = 0
//	while i < n {
//	    let x = {} let y = {}
//	    x.next = y y.next = x
//	    i = i + 1
//	}
//	gcCollect()
func stressProgram(n int) *ast.Program {
	return &ast.Program{Stmts: []ast.Stmt{
		&ast.LetStmt{Name: "i", Value: &ast.IntLit{Value: 0}},
		&ast.WhileStmt{
			Cond: &ast.BinaryExpr{Op: "<", Left: &ast.Ident{Name: "i"}, Right: &ast.IntLit{Value: int64(n)}},
			Body: &ast.BlockStmt{Stmts: []ast.Stmt{
				&ast.LetStmt{Name: "x", Value: &ast.ObjectLit{}},
				&ast.LetStmt{Name: "y", Value: &ast.ObjectLit{}},
				&ast.AssignStmt{
					Target: &ast.MemberExpr{Target: &ast.Ident{Name: "x"}, Name: "next"},
					Value:  &ast.Ident{Name: "y"},
				},
				&ast.AssignStmt{
					Target: &ast.MemberExpr{Target: &ast.Ident{Name: "y"}, Name: "next"},
					Value:  &ast.Ident{Name: "x"},
				},
				&ast.AssignStmt{
					Target: &ast.Ident{Name: "i"},
					Value:  &ast.BinaryExpr{Op: "+", Left: &ast.Ident{Name: "i"}, Right: &ast.IntLit{Value: 1}},
				},
			}},
		},
		&ast.ExprStmt{Expr: &ast.CallExpr{Callee: &ast.Ident{Name: "gcCollect"}}},
		&ast.ExprStmt{Expr: &ast.Ident{Name: "i"}},
	}}
}
