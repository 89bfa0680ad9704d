package deployments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/querygate/querygate/internal/observability"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Record string            `yaml:"record"`
			Alert  string            `yaml:"alert"`
			Expr   string            `yaml:"expr"`
			Labels map[string]string `yaml:"labels"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

var metricReference = regexp.MustCompile(`\bquerygate_[a-z_]+`)

func TestGrafanaDashboardJSONIsValid(t *testing.T) {
	content := readAsset(t, "observability", "grafana", "querygate_dashboard.json")

	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil {
		t.Fatalf("dashboard JSON parse error: %v", err)
	}

	title, _ := decoded["title"].(string)
	if strings.TrimSpace(title) == "" {
		t.Fatal("dashboard title is required")
	}
	panels, ok := decoded["panels"].([]any)
	if !ok || len(panels) == 0 {
		t.Fatal("dashboard must include at least one panel")
	}
}

func TestPrometheusRulesContainExpectedRecordsAndAlerts(t *testing.T) {
	rules := loadRules(t)

	records := map[string]bool{}
	alerts := map[string]bool{}
	for _, group := range rules.Groups {
		for _, rule := range group.Rules {
			if rule.Record != "" {
				records[rule.Record] = true
			}
			if rule.Alert != "" {
				alerts[rule.Alert] = true
				if severity := rule.Labels["severity"]; severity != "warning" && severity != "critical" {
					t.Fatalf("alert %q has severity %q", rule.Alert, severity)
				}
			}
		}
	}

	for _, name := range []string{
		"querygate:generation_latency_ms_p95",
		"querygate:generation_failure_rate_5m",
		"querygate:grammar_violations_15m",
		"querygate:execution_error_rate_5m",
		"querygate:http_error_rate_5m",
	} {
		if !records[name] {
			t.Fatalf("rules missing record %q", name)
		}
	}
	for _, name := range []string{
		"QueryGateGenerationFailureRateHigh",
		"QueryGateGrammarViolationsDetected",
		"QueryGateExecutionErrorRateHigh",
		"QueryGateHTTPErrorRateHigh",
		"QueryGateEvaluationAccuracyLow",
	} {
		if !alerts[name] {
			t.Fatalf("rules missing alert %q", name)
		}
	}
}

func TestPrometheusRulesReferenceRegisteredMetrics(t *testing.T) {
	registered := registeredMetricNames(t)
	rules := loadRules(t)
	for _, group := range rules.Groups {
		for _, rule := range group.Rules {
			for _, ref := range metricReference.FindAllString(rule.Expr, -1) {
				base := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(ref, "_bucket"), "_count"), "_sum")
				if !registered[base] {
					t.Fatalf("rule %q%q references unknown metric %q", rule.Record, rule.Alert, ref)
				}
			}
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := string(readAsset(t, "observability", "prometheus", "prometheus-scrape.example.yaml"))

	if !strings.Contains(text, "metrics_path: /v1/metrics") {
		t.Fatal("scrape example missing metrics path")
	}
	if !strings.Contains(text, "querygate_rules.yaml") {
		t.Fatal("scrape example missing rule file reference")
	}
	if !strings.Contains(text, "job_name: querygate-api") {
		t.Fatal("scrape example missing querygate-api job")
	}
}

// registeredMetricNames touches every collector so vectors show up in the gatherer.
func registeredMetricNames(t *testing.T) map[string]bool {
	t.Helper()
	observability.ObserveGeneration("assets-test", time.Millisecond, true)
	observability.IncrementGrammarViolation()
	observability.ObserveExecution("ok", time.Millisecond)
	observability.SetEvaluationAccuracy("basic", 1, 1)
	observability.IncrementEvaluationRuns()
	handler := observability.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	return names
}

func loadRules(t *testing.T) ruleFile {
	t.Helper()
	var rules ruleFile
	if err := yaml.Unmarshal(readAsset(t, "observability", "prometheus", "querygate_rules.yaml"), &rules); err != nil {
		t.Fatalf("rules YAML parse error: %v", err)
	}
	if len(rules.Groups) == 0 {
		t.Fatal("rules must include at least one group")
	}
	return rules
}

func readAsset(t *testing.T, parts ...string) []byte {
	t.Helper()
	path := filepath.Join(append([]string{repoRoot(t), "deployments"}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), ".."))
}
