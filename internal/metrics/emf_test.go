package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestNewTo_AutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "upload-process"
	defer func() { functionName = "" }()

	r := NewTo(&bytes.Buffer{}, Namespace)
	if r.namespace != "PhotoContest" {
		t.Errorf("expected namespace PhotoContest, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "upload-process" {
		t.Errorf("expected FunctionName dimension upload-process, got %s", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	initOnce.Do(func() {})
	functionName = ""

	var buf bytes.Buffer
	NewTo(&buf, Namespace).
		Dimension("Outcome", "finalized").
		Metric("ItemProcessingMs", 1234.5, UnitMilliseconds).
		Count("ItemsProcessed").
		Property("tenant", "acme").
		Flush()

	output := buf.String()
	if strings.Count(output, "\n") != 1 {
		t.Fatalf("EMF output must be a single line, got %q", output)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, output)
	}

	awsMap, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]any)
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]any)
	if cw["Namespace"] != "PhotoContest" {
		t.Errorf("expected namespace PhotoContest, got %v", cw["Namespace"])
	}
	defs := cw["Metrics"].([]any)
	if len(defs) != 2 || defs[0].(map[string]any)["Name"] != "ItemProcessingMs" {
		t.Errorf("metric definitions should be sorted by name, got %v", defs)
	}

	if doc["Outcome"] != "finalized" {
		t.Errorf("expected Outcome=finalized, got %v", doc["Outcome"])
	}
	if doc["ItemProcessingMs"] != 1234.5 {
		t.Errorf("expected ItemProcessingMs=1234.5, got %v", doc["ItemProcessingMs"])
	}
	if doc["ItemsProcessed"] != float64(1) {
		t.Errorf("expected ItemsProcessed=1, got %v", doc["ItemsProcessed"])
	}
	if doc["tenant"] != "acme" {
		t.Errorf("expected tenant=acme, got %v", doc["tenant"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewTo(&buf, "Test").Flush()
	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_ConcurrentFlushes(t *testing.T) {
	var buf bytes.Buffer
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewTo(&buf, Namespace).Count("ItemsProcessed").Flush()
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Fatalf("expected 20 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Errorf("interleaved output: %q", line)
		}
	}
}

func TestRecorder_Chaining(t *testing.T) {
	functionName = ""
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != 100 {
		t.Error("chaining Metric failed")
	}
	if m := rec.metrics["Calls"]; rec.values["Calls"] != 1 || m.Unit != UnitCount {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}
