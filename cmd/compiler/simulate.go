package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"dtree-rule-compiler/internal/engine"
	"dtree-rule-compiler/internal/model"
	"dtree-rule-compiler/internal/parser"
	"dtree-rule-compiler/pkg/wellknown"
)

var workers int

type packetTask struct {
	index  int
	label  string
	packet model.Packet
}

type simulationResult struct {
	task      packetTask
	result    model.EvaluationResult
	reference int
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Classify sample packets against the compiled tables",
		Long: `simulate compiles the policy, runs every packet of --packets through the
	partition and forwarding tables, and checks each decision against direct
	evaluation of the leaf conditions.`,
		RunE: runSimulate,
	}
	cmd.Flags().StringVarP(&policyFile, "policy", "p", "", "Decision-tree policy file (required)")
	cmd.Flags().StringVar(&packetsFile, "packets", "", "Packet CSV file with one column per field (required)")
	cmd.Flags().StringVar(&resultsFile, "results", "results.csv", "Output CSV file for decisions")
	cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Number of concurrent workers")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when any policy line is skipped")
	cmd.MarkFlagRequired("policy")
	cmd.MarkFlagRequired("packets")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	startTime := time.Now()
	cfg, prog, err := compilePolicy(cmd)
	if err != nil {
		return err
	}

	f, err := os.Open(packetsFile)
	if err != nil {
		slog.Error("Failed to open packets file", "path", packetsFile, "error", err)
		return err
	}
	defer f.Close()
	tasks, err := readPackets(f, cfg.FieldSpecs())
	if err != nil {
		slog.Error("Failed to parse packets file", "path", packetsFile, "error", err)
		return err
	}
	slog.Info("Packets loaded", "count", len(tasks))

	results := simulate(prog, tasks, workers)

	var inconsistent int
	err = writeFileAtomic(resultsFile, 0644, func(w io.Writer) error {
		var werr error
		inconsistent, werr = writeResults(w, cfg.FieldSpecs(), prog, results)
		return werr
	})
	if err != nil {
		slog.Error("Failed to write results", "path", resultsFile, "error", err)
		return err
	}
	if inconsistent > 0 {
		slog.Warn("Table lookup disagrees with leaf conditions", "packets", inconsistent)
	}
	slog.Info("Simulation complete", "packets", len(tasks), "inconsistent", inconsistent, "duration", time.Since(startTime))
	return nil
}

// readPackets reads a CSV whose header names the fields; an optional
// "label" column is carried through. Values are integers or, for fields
// with a kind, well-known protocol and service names.
func readPackets(r io.Reader, fields []model.FieldSpec) ([]packetTask, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.TrimSpace(h)] = i
	}
	for _, f := range fields {
		if _, ok := columns[f.Name]; !ok {
			return nil, fmt.Errorf("missing column %q", f.Name)
		}
	}
	labelCol, hasLabel := columns["label"]

	var tasks []packetTask
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pkt := make(model.Packet, len(fields))
		for _, f := range fields {
			v, err := packetValue(f, record[columns[f.Name]])
			if err != nil {
				return nil, fmt.Errorf("line %d: field %s: %w", line, f.Name, err)
			}
			pkt[f.Name] = v
		}
		task := packetTask{index: len(tasks), packet: pkt}
		if hasLabel {
			task.label = record[labelCol]
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func packetValue(field model.FieldSpec, raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	v, err := parser.ParseValue(raw)
	if err == nil {
		return v, nil
	}
	if field.Kind != "" {
		if entry, ok := wellknown.Lookup(field.Kind, raw); ok {
			return entry.Value, nil
		}
	}
	return 0, err
}

// simulate evaluates tasks on a pool of workers and returns the results in
// input order.
func simulate(prog *model.Program, tasks []packetTask, workers int) []simulationResult {
	if workers < 1 {
		workers = 1
	}
	evaluator := engine.NewEvaluator(prog)
	leaves := make([]model.LeafRule, len(prog.Rules))
	for i, r := range prog.Rules {
		leaves[i] = r.Leaf
	}

	in := make(chan packetTask, workers*100)
	out := make(chan simulationResult, workers*100)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(&wg, i+1, evaluator, leaves, in, out)
	}
	go func() {
		for _, t := range tasks {
			in <- t
		}
		close(in)
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]simulationResult, len(tasks))
	for r := range out {
		results[r.task.index] = r
	}
	return results
}

func worker(wg *sync.WaitGroup, id int, evaluator *engine.Evaluator, leaves []model.LeafRule, tasks <-chan packetTask, results chan<- simulationResult) {
	defer wg.Done()
	slog.Debug("Worker started", "id", id)
	for task := range tasks {
		results <- simulationResult{
			task:      task,
			result:    evaluator.Evaluate(task.packet),
			reference: engine.MatchLeaf(leaves, task.packet),
		}
	}
	slog.Debug("Worker finished", "id", id)
}

// writeResults writes one CSV row per packet and returns how many packets
// were classified differently by the tables and by the leaf conditions.
func writeResults(w io.Writer, fields []model.FieldSpec, prog *model.Program, results []simulationResult) (int, error) {
	writer := csv.NewWriter(w)

	header := []string{"label"}
	for _, f := range fields {
		header = append(header, f.Name)
	}
	header = append(header, "decision", "line", "class", "action", "host", "port", "buckets", "reference_line", "consistent")
	if err := writer.Write(header); err != nil {
		return 0, err
	}

	var inconsistent int
	for _, r := range results {
		record := []string{r.task.label}
		for _, f := range fields {
			record = append(record, strconv.FormatUint(r.task.packet[f.Name], 10))
		}
		res := r.result
		line, class, action, host, port := "", "", "", "", ""
		if res.Rule >= 0 {
			line = strconv.Itoa(res.Line)
			class = strconv.Itoa(res.Class)
			action = strconv.Itoa(res.Action)
		}
		if res.Decision == model.DecisionForward {
			host = res.Destination.Host.String()
			port = strconv.Itoa(int(res.Destination.Port))
		}
		buckets := make([]string, len(res.Buckets))
		for i, b := range res.Buckets {
			buckets[i] = strconv.Itoa(b)
		}
		referenceLine := ""
		if r.reference >= 0 {
			referenceLine = strconv.Itoa(prog.Rules[r.reference].Leaf.Line)
		}
		consistent := r.reference == res.Rule
		if !consistent {
			inconsistent++
		}
		record = append(record, string(res.Decision), line, class, action, host, port,
			strings.Join(buckets, " "), referenceLine, strconv.FormatBool(consistent))
		if err := writer.Write(record); err != nil {
			return inconsistent, err
		}
	}
	writer.Flush()
	return inconsistent, writer.Error()
}
